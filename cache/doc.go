// Package cache provides a TTL based memoizing result cache for analytics reads.
//
// # Overview
//
// The package exports:
//
//   - ResultCache: memoizes compute functions into a pluggable Store
//   - GetOrCompute: the type-safe entry point over a ResultCache
//   - Memo: a function bound to a cache, an identity and a TTL
//   - KeySerializer: builds fingerprints from an operation identity and its arguments
//
// # Basic Usage
//
//	rc, err := cache.New(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	stats, err := cache.GetOrCompute(ctx, rc, "stats.GetStats", time.Minute,
//		func(ctx context.Context) (ProductStats, error) {
//			return loadStats(ctx, productID)
//		}, productID)
//
// A hit returns the stored value without calling the compute function. A miss
// calls it once, stores the result for the TTL and returns it. Compute errors
// are returned to the caller and never cached.
//
// # Entries and Expiry
//
// Every value is stored inside an Entry envelope carrying its absolute expiry
// and the canonical argument encoding. The cache checks the expiry itself, so
// an entry is never served after it expires even when the backend keeps it
// around longer. One entry exists per (identity, arguments) pair; a new write
// replaces the old one.
//
// # Fingerprints
//
// The default serializer writes arguments in a type-tagged, length-prefixed
// form before hashing it with xxhash64, so f(1, "2") and f(12, nil) never share
// a key. Maps and Named keyword arguments are sorted, pointers are
// dereferenced, structs contribute their exported fields and values
// implementing encoding.TextMarshaler (time.Time, uuid.UUID) contribute their
// text form. Functions, channels and cyclic values cannot be keyed and are
// rejected with ErrUnsupportedArgument; GetOrCompute then computes without
// caching.
//
// # Failure Handling
//
// Backend errors, undecodable entries and digest collisions are logged and
// treated as misses. A nil Store turns the cache into a pass-through.
//
// # See Also
//
// The in-process store lives in internal/cacheinfra, the valkey store in
// internal/valkeystore.
package cache
