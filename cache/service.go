package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedArgument is returned by key serializers for arguments that have
// no stable value identity (functions, channels, unsafe pointers).
var ErrUnsupportedArgument = errors.New("cache: unsupported argument type")

// Store is the key-value backend a ResultCache writes CacheEntry envelopes into.
// Implementations only need SET with a TTL and GET; expiry is enforced again by
// the cache itself, so backends that ignore the TTL are still correct.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PrefixDeleter is implemented by stores that can drop every key sharing a prefix.
type PrefixDeleter interface {
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// Codec serializes cached values and entry envelopes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Fingerprint identifies one cache entry.
// Key is the compact store key, Canonical the full argument encoding it was
// digested from. Canonical travels inside the entry so digest collisions are
// detected on read.
type Fingerprint struct {
	Key       string
	Canonical string
}

// KeySerializer builds a fingerprint from an operation identity and its arguments.
// Equal arguments must produce equal fingerprints.
type KeySerializer interface {
	SerializeKey(identity string, args ...any) (Fingerprint, error)
	Prefix(identity string) string
}

// ComputeFn produces the value for a cache miss.
type ComputeFn[T any] func(ctx context.Context) (T, error)

// Entry is the envelope persisted for every cached value.
type Entry struct {
	Canonical string    `msgpack:"c"`
	ExpiresAt time.Time `msgpack:"e"`
	Value     []byte    `msgpack:"v"`
}

// Expired reports whether the entry must no longer be served at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
