package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-analytics-cache/pkg/testsupport"
	"github.com/goliatone/go-analytics-cache/store"
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := store.Open(context.Background(), store.Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testsupport.OpenTestDB(t)
	require.NoError(t, store.Migrate(context.Background(), db))
}

func TestCatalog_Lookup(t *testing.T) {
	ctx := context.Background()
	catalog := store.NewCatalog(testsupport.SeededDB(t))

	p, err := catalog.Product(ctx, testsupport.BorealisID)
	require.NoError(t, err)
	assert.Equal(t, "Borealis Speaker", p.Name)

	p, err = catalog.ProductByName(ctx, "Cirrus Keyboard")
	require.NoError(t, err)
	assert.Equal(t, testsupport.CirrusID, p.ID.String())

	products, err := catalog.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "Aurora Headphones", products[0].Name)
}

func TestCatalog_ReviewBodies(t *testing.T) {
	ctx := context.Background()
	catalog := store.NewCatalog(testsupport.SeededDB(t))

	bodies, err := catalog.ReviewBodies(ctx, testsupport.AuroraID)
	require.NoError(t, err)
	assert.Len(t, bodies, 4)

	bodies, err = catalog.ReviewBodies(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, bodies)
}

func TestCatalog_AssignsIDs(t *testing.T) {
	ctx := context.Background()
	catalog := store.NewCatalog(testsupport.OpenTestDB(t))

	created, err := catalog.AddProducts(ctx, []*store.Product{{Name: "Dune Lamp", Platform: "walmart"}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.NotEqual(t, uuid.Nil, created[0].ID)
	assert.False(t, created[0].CreatedAt.IsZero())
}

func TestReadDataset(t *testing.T) {
	ds, err := store.ReadDataset(strings.NewReader(`{"products":[{"name":"x","platform":"amazon"}],"reviews":[]}`))
	require.NoError(t, err)
	require.Len(t, ds.Products, 1)
	assert.Equal(t, "x", ds.Products[0].Name)

	_, err = store.ReadDataset(strings.NewReader(`{`))
	assert.Error(t, err)
}
