// Package repositorycache decorates go-repository-bun repositories with a
// cache.ResultCache.
//
// # Overview
//
// CachedRepository wraps a base repository and serves Get, GetByID,
// GetByIdentifier, List and Count from the result cache when they are called
// without criteria. Criteria are query builder functions with no value
// identity, so calls that pass them go straight to the base repository, as do
// the *Tx reads and Raw.
//
// # Basic Usage
//
//	products := repositorycache.New(store.NewProductRepository(db), rc, "products", 0)
//	catalog := store.NewCatalogWithRepositories(products, store.NewReviewRepository(db))
//
//	p, err := products.GetByIdentifier(ctx, "Aurora Headphones")
//
// Entries live under the identities "<name>.<operation>", so "products.GetByID"
// called with "p-1" and with "p-2" are two entries.
//
// # Invalidation
//
// A successful write (Create, Update, Upsert, Delete and their Many and Tx
// variants) drops every cached read of the repository through
// ResultCache.InvalidateIdentity. A failed write leaves the cache alone. Stores
// without prefix deletion keep stale reads until their TTL runs out.
package repositorycache
