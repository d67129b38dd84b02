package store

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NewProductRepository returns a go-repository-bun repository for products,
// identified by name.
func NewProductRepository(db *bun.DB) repository.Repository[*Product] {
	return repository.NewRepository[*Product](db, repository.ModelHandlers[*Product]{
		NewRecord: func() *Product { return &Product{} },
		GetID: func(p *Product) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID:         func(p *Product, id uuid.UUID) { p.ID = id },
		GetIdentifier: func() string { return "name" },
	})
}

// NewReviewRepository returns a go-repository-bun repository for reviews.
func NewReviewRepository(db *bun.DB) repository.Repository[*Review] {
	return repository.NewRepository[*Review](db, repository.ModelHandlers[*Review]{
		NewRecord: func() *Review { return &Review{} },
		GetID: func(r *Review) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID:         func(r *Review, id uuid.UUID) { r.ID = id },
		GetIdentifier: func() string { return "id" },
	})
}

// Catalog is the ingest and lookup surface over products and reviews.
type Catalog struct {
	products repository.Repository[*Product]
	reviews  repository.Repository[*Review]
}

// NewCatalog builds a Catalog on db.
func NewCatalog(db *bun.DB) *Catalog {
	return &Catalog{
		products: NewProductRepository(db),
		reviews:  NewReviewRepository(db),
	}
}

// NewCatalogWithRepositories builds a Catalog on existing repositories.
func NewCatalogWithRepositories(products repository.Repository[*Product], reviews repository.Repository[*Review]) *Catalog {
	return &Catalog{products: products, reviews: reviews}
}

// AddProducts inserts products, assigning ids to those without one.
func (c *Catalog) AddProducts(ctx context.Context, products []*Product) ([]*Product, error) {
	if len(products) == 0 {
		return products, nil
	}
	now := time.Now().UTC()
	for _, p := range products {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	}
	created, err := c.products.CreateMany(ctx, products)
	if err != nil {
		return nil, fmt.Errorf("store: add products: %w", err)
	}
	return created, nil
}

// AddReviews inserts reviews, assigning ids to those without one.
func (c *Catalog) AddReviews(ctx context.Context, reviews []*Review) ([]*Review, error) {
	if len(reviews) == 0 {
		return reviews, nil
	}
	now := time.Now().UTC()
	for _, r := range reviews {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
	}
	created, err := c.reviews.CreateMany(ctx, reviews)
	if err != nil {
		return nil, fmt.Errorf("store: add reviews: %w", err)
	}
	return created, nil
}

// Product looks a product up by id.
func (c *Catalog) Product(ctx context.Context, id string) (*Product, error) {
	p, err := c.products.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store: product %s: %w", id, err)
	}
	return p, nil
}

// ProductByName looks a product up by its name.
func (c *Catalog) ProductByName(ctx context.Context, name string) (*Product, error) {
	p, err := c.products.GetByIdentifier(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("store: product %q: %w", name, err)
	}
	return p, nil
}

// Products lists every product ordered by name.
func (c *Catalog) Products(ctx context.Context) ([]*Product, error) {
	products, _, err := c.products.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Order("name ASC")
	})
	if err != nil {
		return nil, fmt.Errorf("store: list products: %w", err)
	}
	return products, nil
}

// ReviewBodies returns the review texts of a product, oldest first.
func (c *Catalog) ReviewBodies(ctx context.Context, productID string) ([]string, error) {
	reviews, _, err := c.reviews.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("product_id = ?", productID).Order("created_at ASC", "id ASC")
	})
	if err != nil {
		return nil, fmt.Errorf("store: review bodies for %s: %w", productID, err)
	}

	bodies := make([]string, 0, len(reviews))
	for _, r := range reviews {
		if r.Body != "" {
			bodies = append(bodies, r.Body)
		}
	}
	return bodies, nil
}
