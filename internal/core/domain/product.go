package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product represents a purchasable catalog item with live stock.
type Product struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"` // Current catalog price, minor units
	Currency   string    `json:"currency"`
	Stock      int       `json:"stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InStock returns true if at least qty units are available.
func (p *Product) InStock(qty int) bool {
	return p.Active && p.Stock >= qty
}
