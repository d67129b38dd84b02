package view

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-analytics-cache/batch"
)

// Result describes one build.
type Result struct {
	View       string
	Target     string
	Rows       int
	Partitions int
	Duration   time.Duration
	BuiltAt    time.Time
	Err        error
}

// Builder materializes view definitions into their target tables.
//
// A build writes into a fresh staging table and swaps it in with a single
// transaction (drop target, rename staging, index group keys). Any failure,
// cancellation or wind down request before the commit drops the staging
// table and leaves the previous target untouched. Concurrent builds of the
// same view share one execution.
type Builder struct {
	db   *bun.DB
	opts options

	flight singleflight.Group
	last   *xsync.MapOf[string, Result]

	hooksMu sync.RWMutex
	hooks   []func(context.Context, Result)
}

// NewBuilder returns a Builder writing to db.
func NewBuilder(db *bun.DB, opts ...Option) *Builder {
	return &Builder{
		db:   db,
		opts: newOptions("view_builder", opts),
		last: xsync.NewMapOf[string, Result](),
	}
}

// OnBuilt registers fn to run after every successful swap.
func (b *Builder) OnBuilt(fn func(context.Context, Result)) {
	if fn == nil {
		return
	}
	b.hooksMu.Lock()
	b.hooks = append(b.hooks, fn)
	b.hooksMu.Unlock()
}

// LastBuild returns the outcome of the latest finished build of name.
func (b *Builder) LastBuild(name string) (Result, bool) {
	return b.last.Load(name)
}

// Build runs def's aggregation and replaces its target with the result.
func (b *Builder) Build(ctx context.Context, def Definition) (Result, error) {
	if err := def.Validate(); err != nil {
		return Result{View: def.Name, Err: err}, fmt.Errorf("view %s: invalid definition: %w", def.Name, err)
	}

	ch := b.flight.DoChan(def.Name, func() (any, error) {
		return b.build(ctx, def)
	})
	select {
	case res := <-ch:
		return res.Val.(Result), res.Err
	case <-ctx.Done():
		return Result{View: def.Name, Err: ctx.Err()}, ctx.Err()
	}
}

// BuildAll builds defs one after the other and joins their errors.
func (b *Builder) BuildAll(ctx context.Context, defs []Definition) ([]Result, error) {
	results := make([]Result, 0, len(defs))
	var errs []error
	for _, def := range defs {
		res, err := b.Build(ctx, def)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

func (b *Builder) build(ctx context.Context, def Definition) (res Result, err error) {
	start := b.opts.now()
	res = Result{View: def.Name, Target: def.TargetName()}
	log := b.opts.logger.WithFields(logrus.Fields{
		"view":   def.Name,
		"target": res.Target,
	})

	b.opts.profiler.AnalyzeSelect(ctx, aggregateQuery(b.db, def.Source, def.Aggregation))

	stage := stagingName(res.Target)
	defer func() {
		res.Duration = b.opts.now().Sub(start)
		if err != nil {
			b.dropTable(ctx, stage, log)
			res.Err = err
			b.last.Store(def.Name, res)
			log.WithError(err).WithField("duration", res.Duration).Error("view build failed")
			err = fmt.Errorf("view %s: %w", def.Name, err)
		}
	}()

	if def.Aggregation.PartitionBy != "" {
		res.Partitions, err = b.populatePartitioned(ctx, def, stage)
	} else {
		err = b.populate(ctx, def, stage)
	}
	if err != nil {
		return res, err
	}

	if res.Rows, err = b.db.NewSelect().TableExpr("?", bun.Ident(stage)).Count(ctx); err != nil {
		return res, fmt.Errorf("count staging rows: %w", err)
	}
	if err = b.swap(ctx, def, stage, res.Target); err != nil {
		return res, err
	}

	res.BuiltAt = b.opts.now()
	res.Duration = res.BuiltAt.Sub(start)
	b.last.Store(def.Name, res)
	log.WithFields(logrus.Fields{
		"rows":     res.Rows,
		"duration": res.Duration,
	}).Info("view built")

	b.hooksMu.RLock()
	hooks := append([]func(context.Context, Result){}, b.hooks...)
	b.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, res)
	}
	return res, nil
}

func (b *Builder) populate(ctx context.Context, def Definition, stage string) error {
	q := aggregateQuery(b.db, def.Source, def.Aggregation)
	if _, err := b.db.ExecContext(ctx, "CREATE TABLE "+quoteIdent(stage)+" AS "+q.String()); err != nil {
		return fmt.Errorf("populate staging: %w", err)
	}
	return nil
}

// populatePartitioned creates an empty staging table with the view's shape,
// then lets the executor aggregate chunks of partition values into it.
func (b *Builder) populatePartitioned(ctx context.Context, def Definition, stage string) (int, error) {
	agg := def.Aggregation

	shape := aggregateQuery(b.db, def.Source, agg).Where("1 = 0")
	if _, err := b.db.ExecContext(ctx, "CREATE TABLE "+quoteIdent(stage)+" AS "+shape.String()); err != nil {
		return 0, fmt.Errorf("create staging: %w", err)
	}

	values, hasNull, err := b.partitionValues(ctx, def)
	if err != nil {
		return 0, err
	}

	insert := func(ctx context.Context, where func(*bun.SelectQuery) *bun.SelectQuery) (int64, error) {
		if err := b.checkpoint(ctx); err != nil {
			return 0, err
		}
		q := where(aggregateQuery(b.db, def.Source, agg))
		r, err := b.db.ExecContext(ctx, "INSERT INTO "+quoteIdent(stage)+" "+q.String())
		if err != nil {
			return 0, err
		}
		return r.RowsAffected()
	}

	_, err = batch.Run(ctx, b.opts.exec, values, agg.chunkSize(), batch.IOBound, func(ctx context.Context, chunk []any) ([]int64, error) {
		n, err := insert(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? IN (?)", bun.Ident(agg.PartitionBy), bun.In(chunk))
		})
		if err != nil {
			return nil, err
		}
		return []int64{n}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("populate partitions: %w", err)
	}

	if hasNull {
		_, err := insert(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? IS NULL", bun.Ident(agg.PartitionBy))
		})
		if err != nil {
			return 0, fmt.Errorf("populate null partition: %w", err)
		}
		return len(values) + 1, nil
	}
	return len(values), nil
}

func (b *Builder) partitionValues(ctx context.Context, def Definition) ([]any, bool, error) {
	col := bun.Ident(def.Aggregation.PartitionBy)
	q := b.db.NewSelect().
		TableExpr("?", bun.Ident(def.Source)).
		ColumnExpr("DISTINCT ?", col).
		OrderExpr("? ASC", col)
	q = applyFilters(q, def.Aggregation.Filters)

	rows, err := q.Rows(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("partition values: %w", err)
	}
	defer rows.Close()

	var (
		values  []any
		hasNull bool
	)
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, false, fmt.Errorf("partition values: %w", err)
		}
		switch tv := v.(type) {
		case nil:
			hasNull = true
			continue
		case []byte:
			v = string(tv)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("partition values: %w", err)
	}
	return values, hasNull, nil
}

func (b *Builder) swap(ctx context.Context, def Definition, stage, target string) error {
	err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := b.checkpoint(ctx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(target)); err != nil {
			return fmt.Errorf("drop target: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "ALTER TABLE "+quoteIdent(stage)+" RENAME TO "+quoteIdent(target)); err != nil {
			return fmt.Errorf("rename staging: %w", err)
		}
		if keys := def.Aggregation.GroupBy; len(keys) > 0 {
			cols := make([]string, len(keys))
			for i, k := range keys {
				cols[i] = quoteIdent(k)
			}
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quoteIdent(target+"_key_idx"), quoteIdent(target), strings.Join(cols, ", "))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("index target: %w", err)
			}
		}
		return b.checkpoint(ctx)
	})
	if err != nil {
		return fmt.Errorf("swap: %w", err)
	}
	return nil
}

// checkpoint fails once the build has been cancelled or asked to wind down.
func (b *Builder) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.opts.windDown == nil {
		return nil
	}
	if ch := b.opts.windDown(ctx); ch != nil {
		select {
		case <-ch:
			return ErrWindDown
		default:
		}
	}
	return nil
}

func (b *Builder) dropTable(ctx context.Context, name string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		log.WithError(err).WithField("staging", name).Warn("failed to drop staging table")
	}
}

func stagingName(target string) string {
	return target + "__stg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
