package cache

import (
	"context"
	"time"
)

// Memo binds a function to a ResultCache, an identity and a TTL.
type Memo[T any] struct {
	cache    *ResultCache
	identity string
	ttl      time.Duration
	fn       func(ctx context.Context, args ...any) (T, error)
}

// NewMemo returns fn memoized under identity. ttl <= 0 uses the cache default.
func NewMemo[T any](c *ResultCache, identity string, ttl time.Duration, fn func(ctx context.Context, args ...any) (T, error)) *Memo[T] {
	return &Memo[T]{cache: c, identity: identity, ttl: ttl, fn: fn}
}

// Get returns the memoized result of fn(args...).
func (m *Memo[T]) Get(ctx context.Context, args ...any) (T, error) {
	return GetOrCompute(ctx, m.cache, m.identity, m.ttl, func(ctx context.Context) (T, error) {
		return m.fn(ctx, args...)
	}, args...)
}

// Forget drops the cached result of fn(args...).
func (m *Memo[T]) Forget(ctx context.Context, args ...any) error {
	return m.cache.Invalidate(ctx, m.identity, args...)
}

// Identity returns the operation name the memo caches under.
func (m *Memo[T]) Identity() string {
	return m.identity
}
