package view

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Origin tells where a Reader answer came from.
type Origin int

const (
	// OriginView means the rows were read from the built target.
	OriginView Origin = iota
	// OriginLive means the aggregation ran against the source.
	OriginLive
)

func (o Origin) String() string {
	switch o {
	case OriginView:
		return "view"
	case OriginLive:
		return "live"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Reader serves view reads, preferring the precomputed target and falling
// back to a live aggregation when the target is missing or has no matching
// rows. Both paths return the same columns in the same order.
type Reader struct {
	db   *bun.DB
	opts options
}

// NewReader returns a Reader over db.
func NewReader(db *bun.DB, opts ...Option) *Reader {
	return &Reader{db: db, opts: newOptions("view_reader", opts)}
}

// Query scans def's rows matching filters into dest, a pointer to a slice
// of structs or maps. Filters may only name group keys.
func (r *Reader) Query(ctx context.Context, def Definition, dest any, filters ...Filter) (Origin, error) {
	agg := def.Aggregation
	if err := checkFilters(def, filters); err != nil {
		return OriginLive, err
	}

	target := def.TargetName()
	log := r.opts.logger.WithFields(logrus.Fields{"view": def.Name, "target": target})

	exists, err := r.Exists(ctx, target)
	if err != nil {
		log.WithError(err).Warn("could not check view target")
	}
	if exists {
		resetSlice(dest)
		err := targetQuery(r.db, target, agg, filters...).Scan(ctx, dest)
		switch {
		case err == nil && resultLen(dest) > 0:
			return OriginView, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			log.WithError(err).Warn("view read failed, computing live")
		}
	}

	resetSlice(dest)
	q := aggregateQuery(r.db, def.Source, agg, filters...)
	r.opts.profiler.AnalyzeSelect(ctx, q)
	if err := q.Scan(ctx, dest); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return OriginLive, fmt.Errorf("view %s: live query: %w", def.Name, err)
	}
	return OriginLive, nil
}

// Exists reports whether table exists in the current database or schema.
func (r *Reader) Exists(ctx context.Context, table string) (bool, error) {
	if err := checkIdent(table); err != nil {
		return false, err
	}

	query := "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if r.db.Dialect().Name() == dialect.PG {
		query = "SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}

	var n int
	if err := r.db.NewRaw(query, table).Scan(ctx, &n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func resultLen(dest any) int {
	v := reflect.ValueOf(dest)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return 0
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice {
		return v.Len()
	}
	return 1
}

func resetSlice(dest any) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	if v = v.Elem(); v.Kind() == reflect.Slice && v.CanSet() {
		v.SetLen(0)
	}
}

// checkFilters accepts query time filters on group keys with a known
// operator only.
func checkFilters(def Definition, filters []Filter) error {
	for _, f := range filters {
		if err := checkIdent(f.Column); err != nil {
			return err
		}
		if err := f.Validate(); err != nil {
			return fmt.Errorf("view %s: filter on %q: %w", def.Name, f.Column, err)
		}
		if !slices.Contains(def.Aggregation.GroupBy, f.Column) {
			return fmt.Errorf("view %s: filter column %q is not a group key", def.Name, f.Column)
		}
	}
	return nil
}
