package postgres

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ProductRepo implements ports.ProductRepository.
type ProductRepo struct {
	pool Pool
}

// NewProductRepo creates a new ProductRepo.
func NewProductRepo(pool Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

// Create inserts a new catalog product.
func (r *ProductRepo) Create(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (id, merchant_id, sku, name, price_cents, currency, stock, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.MerchantID, p.SKU, p.Name, p.PriceCents,
		p.Currency, p.Stock, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// GetByID fetches a product by UUID.
func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT id, merchant_id, sku, name, price_cents, currency, stock, active, created_at, updated_at
		FROM products WHERE id = $1`

	p := &domain.Product{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.MerchantID, &p.SKU, &p.Name, &p.PriceCents,
		&p.Currency, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// DecrementStock conditionally takes qty units of stock inside the given
// transaction. The WHERE clause rejects the update when stock would go
// negative or the product was deactivated; a false return means the
// product sold out under this settlement.
func (r *ProductRepo) DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) (bool, error) {
	query := `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND active AND stock >= $2`

	tag, err := tx.Exec(ctx, query, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement product stock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
