package testsupport

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-analytics-cache/store"
)

//go:embed testdata/reviews.json
var sampleDataset []byte

// Fixed ids of the products in the sample dataset.
const (
	AuroraID   = "11111111-1111-4111-8111-111111111111"
	BorealisID = "22222222-2222-4222-8222-222222222222"
	CirrusID   = "33333333-3333-4333-8333-333333333333"
)

// OpenTestDB opens a private in-memory SQLite database with the schema
// migrated. It is closed when the test ends.
func OpenTestDB(t testing.TB) *bun.DB {
	t.Helper()

	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{
		Driver:       store.DriverSQLite,
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString()),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.Migrate(ctx, db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// SampleDataset returns a fresh copy of the bundled three product dataset.
func SampleDataset(t testing.TB) *store.Dataset {
	t.Helper()

	ds, err := store.ReadDataset(bytes.NewReader(sampleDataset))
	if err != nil {
		t.Fatalf("failed to decode sample dataset: %v", err)
	}
	return ds
}

// Seed inserts ds into db.
func Seed(t testing.TB, db *bun.DB, ds *store.Dataset) {
	t.Helper()

	if err := store.NewCatalog(db).Seed(context.Background(), ds); err != nil {
		t.Fatalf("failed to seed dataset: %v", err)
	}
}

// SeededDB opens a test database loaded with the sample dataset.
func SeededDB(t testing.TB) *bun.DB {
	t.Helper()

	db := OpenTestDB(t)
	Seed(t, db, SampleDataset(t))
	return db
}

var platforms = []string{"amazon", "bestbuy", "walmart"}

// GenerateDataset builds a deterministic dataset of n products with
// perProduct reviews each.
func GenerateDataset(n, perProduct int) *store.Dataset {
	ds := &store.Dataset{}
	for i := 0; i < n; i++ {
		product := &store.Product{
			ID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("product-%d", i))),
			Name:     fmt.Sprintf("product %03d", i),
			Platform: platforms[i%len(platforms)],
		}
		ds.Products = append(ds.Products, product)

		for j := 0; j < perProduct; j++ {
			rating := (i*7+j*3)%5 + 1
			ds.Reviews = append(ds.Reviews, &store.Review{
				ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("review-%d-%d", i, j))),
				ProductID: product.ID,
				Platform:  platforms[(i+j)%len(platforms)],
				Rating:    rating,
				Sentiment: float64(rating-3) / 2,
				Body:      fmt.Sprintf("review %d of product %d", j, i),
			})
		}
	}
	return ds
}
