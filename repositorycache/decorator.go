package repositorycache

import (
	"context"
	"errors"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-analytics-cache/cache"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

type listResult[T any] struct {
	Records []T `msgpack:"records"`
	Total   int `msgpack:"total"`
}

// Read operations cached under "<name>.<op>".
var readOps = []string{"Get", "GetByID", "GetByIdentifier", "List", "Count"}

// CachedRepository decorates a repository with a ResultCache. Reads without
// criteria are cached; reads with criteria and transactional reads go to the
// base repository. Every successful write drops the cached reads.
type CachedRepository[T any] struct {
	base  repository.Repository[T]
	cache *cache.ResultCache
	name   string
	ttl    time.Duration
	logger logrus.FieldLogger
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	logger logrus.FieldLogger
}

// WithLogger sets the logger used to report failed invalidations.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New wraps base. name namespaces the cache identities, e.g. "products".
// ttl <= 0 uses the cache default.
func New[T any](base repository.Repository[T], rc *cache.ResultCache, name string, ttl time.Duration, opts ...Option) *CachedRepository[T] {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &CachedRepository[T]{
		base:   base,
		cache:  rc,
		name:   name,
		ttl:    ttl,
		logger: o.logger.WithFields(logrus.Fields{"component": "repositorycache", "repository": name}),
	}
}

func (c *CachedRepository[T]) identity(op string) string {
	return c.name + "." + op
}

func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		return c.base.Get(ctx, criteria...)
	}
	return cache.GetOrCompute(ctx, c.cache, c.identity("Get"), c.ttl, func(ctx context.Context) (T, error) {
		return c.base.Get(ctx)
	})
}

func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		return c.base.GetByID(ctx, id, criteria...)
	}
	return cache.GetOrCompute(ctx, c.cache, c.identity("GetByID"), c.ttl, func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id)
	}, id)
}

func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	if len(criteria) > 0 {
		return c.base.List(ctx, criteria...)
	}
	res, err := cache.GetOrCompute(ctx, c.cache, c.identity("List"), c.ttl, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	if len(criteria) > 0 {
		return c.base.Count(ctx, criteria...)
	}
	return cache.GetOrCompute(ctx, c.cache, c.identity("Count"), c.ttl, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx)
	})
}

func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	}
	return cache.GetOrCompute(ctx, c.cache, c.identity("GetByIdentifier"), c.ttl, func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier)
	}, identifier)
}

func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	return result, c.afterWrite(ctx, err)
}

func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	return c.afterWrite(ctx, c.base.Delete(ctx, record))
}

func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return c.afterWrite(ctx, c.base.DeleteTx(ctx, tx, record))
}

func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return c.afterWrite(ctx, c.base.DeleteMany(ctx, criteria...))
}

func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return c.afterWrite(ctx, c.base.DeleteManyTx(ctx, tx, criteria...))
}

func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return c.afterWrite(ctx, c.base.DeleteWhere(ctx, criteria...))
}

func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return c.afterWrite(ctx, c.base.DeleteWhereTx(ctx, tx, criteria...))
}

func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	return c.afterWrite(ctx, c.base.ForceDelete(ctx, record))
}

func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return c.afterWrite(ctx, c.base.ForceDeleteTx(ctx, tx, record))
}

func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw is never cached.
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// Invalidate drops every cached read of this repository.
func (c *CachedRepository[T]) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	var errs []error
	for _, op := range readOps {
		if err := c.cache.InvalidateIdentity(ctx, c.identity(op)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// afterWrite invalidates after a successful write. A failed invalidation is
// logged; the write itself already happened.
func (c *CachedRepository[T]) afterWrite(ctx context.Context, writeErr error) error {
	if writeErr != nil {
		return writeErr
	}
	if err := c.Invalidate(ctx); err != nil {
		c.logger.WithError(err).Warn("cannot invalidate cached reads, entries expire with their TTL")
	}
	return nil
}
