package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migrate creates the products and reviews tables and their lookup indexes.
// It is safe to run repeatedly.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{(*Product)(nil), (*Review)(nil)}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("store: create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*Product)(nil), "products_platform_idx", []string{"platform"}},
		{(*Review)(nil), "reviews_product_id_idx", []string{"product_id"}},
		{(*Review)(nil), "reviews_platform_idx", []string{"platform"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("store: create index %s: %w", idx.name, err)
		}
	}
	return nil
}
