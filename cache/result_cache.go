package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-analytics-cache/internal/cacheinfra"
)

// DefaultTTL is used when neither the call nor the cache configures a TTL.
const DefaultTTL = 10 * time.Minute

// ResultCache memoizes compute functions into a Store.
// Caching is best effort: backend failures are logged and the compute
// function runs as if the entry was missing.
type ResultCache struct {
	store  Store
	codec  Codec
	keys   KeySerializer
	ttl    time.Duration
	now    func() time.Time
	logger logrus.FieldLogger

	hits        atomic.Int64
	misses      atomic.Int64
	storeErrors atomic.Int64
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	StoreErrors int64 `json:"store_errors"`
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithCodec overrides the msgpack codec.
func WithCodec(codec Codec) Option {
	return func(c *ResultCache) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithKeySerializer overrides the default fingerprint scheme.
func WithKeySerializer(keys KeySerializer) Option {
	return func(c *ResultCache) {
		if keys != nil {
			c.keys = keys
		}
	}
}

// WithTTL sets the TTL used by calls that pass ttl <= 0.
func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used to report backend failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *ResultCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewResultCache wraps store. A nil store is valid and turns the cache into a
// pass-through that always computes.
func NewResultCache(store Store, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:  store,
		codec:  cacheinfra.MsgpackCodec{},
		keys:   NewDefaultKeySerializer(""),
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "result_cache")
	return c
}

// GetOrCompute returns the cached value for identity called with args, or runs
// compute and caches its result for ttl. Compute errors are returned as is and
// never cached.
func GetOrCompute[T any](ctx context.Context, c *ResultCache, identity string, ttl time.Duration, compute ComputeFn[T], args ...any) (T, error) {
	var zero T
	if compute == nil {
		return zero, errors.New("cache: nil compute function")
	}
	if c == nil {
		return compute(ctx)
	}

	fp, err := c.keys.SerializeKey(identity, args...)
	if err != nil {
		c.logger.WithError(err).WithField("identity", identity).Warn("cannot fingerprint arguments, computing without cache")
		return compute(ctx)
	}

	var cached T
	if c.lookup(ctx, fp, func(data []byte) error { return c.codec.Unmarshal(data, &cached) }) {
		c.hits.Add(1)
		return cached, nil
	}
	c.misses.Add(1)

	value, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	c.put(ctx, fp, value, ttl)
	return value, nil
}

// lookup loads and decodes an entry. It reports false on any miss, including
// expired entries, digest collisions and decode failures.
func (c *ResultCache) lookup(ctx context.Context, fp Fingerprint, decode func([]byte) error) bool {
	if c.store == nil {
		return false
	}

	log := c.logger.WithField("key", fp.Key)
	data, ok, err := c.store.Get(ctx, fp.Key)
	if err != nil {
		c.storeErrors.Add(1)
		log.WithError(err).Warn("cache lookup failed")
		return false
	}
	if !ok {
		return false
	}

	var entry Entry
	if err := c.codec.Unmarshal(data, &entry); err != nil {
		log.WithError(err).Warn("cannot decode cache entry")
		return false
	}
	if entry.Canonical != fp.Canonical {
		log.Warn("fingerprint digest collision, ignoring entry")
		return false
	}
	if entry.Expired(c.now()) {
		return false
	}
	if err := decode(entry.Value); err != nil {
		log.WithError(err).Warn("cannot decode cached value")
		return false
	}
	return true
}

func (c *ResultCache) put(ctx context.Context, fp Fingerprint, value any, ttl time.Duration) {
	if c.store == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	log := c.logger.WithField("key", fp.Key)
	payload, err := c.codec.Marshal(value)
	if err != nil {
		log.WithError(err).Warn("cannot encode value, skipping cache write")
		return
	}
	data, err := c.codec.Marshal(Entry{
		Canonical: fp.Canonical,
		ExpiresAt: c.now().Add(ttl),
		Value:     payload,
	})
	if err != nil {
		log.WithError(err).Warn("cannot encode cache entry")
		return
	}
	if err := c.store.Set(ctx, fp.Key, data, ttl); err != nil {
		c.storeErrors.Add(1)
		log.WithError(err).Warn("cache write failed")
	}
}

// Invalidate removes the entry for identity called with args. Like
// GetOrCompute it accepts a nil cache.
func (c *ResultCache) Invalidate(ctx context.Context, identity string, args ...any) error {
	if c == nil || c.store == nil {
		return nil
	}
	fp, err := c.keys.SerializeKey(identity, args...)
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, fp.Key)
}

// InvalidateIdentity removes every entry of identity. Stores that cannot
// delete by prefix leave entries to expire on their own.
func (c *ResultCache) InvalidateIdentity(ctx context.Context, identity string) error {
	if c == nil {
		return nil
	}
	deleter, ok := c.store.(PrefixDeleter)
	if !ok {
		return nil
	}
	return deleter.DeleteByPrefix(ctx, c.keys.Prefix(identity))
}

// TTL returns the default TTL.
func (c *ResultCache) TTL() time.Duration {
	if c == nil {
		return DefaultTTL
	}
	return c.ttl
}

// Stats returns the hit, miss and backend error counters.
func (c *ResultCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		StoreErrors: c.storeErrors.Load(),
	}
}
