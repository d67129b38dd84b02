package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Product is a reviewed item.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID        uuid.UUID `bun:"id,pk,type:varchar(36)" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Platform  string    `bun:"platform,notnull" json:"platform"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Review is a single scored review of a product.
type Review struct {
	bun.BaseModel `bun:"table:reviews,alias:r"`

	ID        uuid.UUID `bun:"id,pk,type:varchar(36)" json:"id"`
	ProductID uuid.UUID `bun:"product_id,notnull,type:varchar(36)" json:"product_id"`
	Platform  string    `bun:"platform,notnull" json:"platform"`
	Rating    int       `bun:"rating,notnull" json:"rating"`
	Sentiment float64   `bun:"sentiment,notnull" json:"sentiment"`
	Body      string    `bun:"body" json:"body"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}
