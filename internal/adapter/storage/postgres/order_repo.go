package postgres

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRepo implements ports.OrderRepository. Orders and their lines are
// written as one unit inside the caller's transaction; the checkout_ref
// unique constraint makes a concurrent duplicate claim fail at insert.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create inserts an order and all of its lines within a database transaction.
func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	query := `INSERT INTO orders (id, order_number, checkout_ref, merchant_id, device_id, user_id,
		status, payment_status, total_cents, currency, created_at, updated_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		o.ID, o.OrderNumber, o.CheckoutRef, o.MerchantID, o.DeviceID, o.UserID,
		o.Status, o.PaymentStatus, o.TotalCents, o.Currency,
		o.CreatedAt, o.UpdatedAt, o.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `INSERT INTO order_lines (id, order_id, product_id, product_name, quantity, unit_price_cents, line_total_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i := range o.Lines {
		l := &o.Lines[i]
		_, err := tx.Exec(ctx, lineQuery,
			l.ID, l.OrderID, l.ProductID, l.ProductName,
			l.Quantity, l.UnitPriceCents, l.LineTotalCents,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

// GetByID fetches an order with its lines.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := orderSelect + ` WHERE id = $1`
	o, err := r.scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil || o == nil {
		return o, err
	}
	if err := r.loadLines(ctx, r.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByIDForUpdate fetches an order with its lines, row-locked inside the
// given transaction. Serializes concurrent resolution of the same order.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := orderSelect + ` WHERE id = $1 FOR UPDATE`
	o, err := r.scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil || o == nil {
		return o, err
	}
	if err := r.loadLines(ctx, tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByCheckoutRef fetches an order by its idempotency anchor.
func (r *OrderRepo) GetByCheckoutRef(ctx context.Context, checkoutRef string) (*domain.Order, error) {
	query := orderSelect + ` WHERE checkout_ref = $1`
	o, err := r.scanOrder(r.pool.QueryRow(ctx, query, checkoutRef))
	if err != nil || o == nil {
		return o, err
	}
	if err := r.loadLines(ctx, r.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus moves an order's lifecycle and payment status within a
// database transaction. settled_at is stamped when the order completes.
func (r *OrderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.OrderStatus, paymentStatus domain.PaymentStatus) error {
	query := `UPDATE orders SET status = $1, payment_status = $2, updated_at = now(),
		settled_at = CASE WHEN $1 = 'COMPLETED' THEN now() ELSE settled_at END
		WHERE id = $3`

	tag, err := tx.Exec(ctx, query, status, paymentStatus, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", id)
	}
	return nil
}

const orderSelect = `SELECT id, order_number, checkout_ref, merchant_id, device_id, user_id,
	status, payment_status, total_cents, currency, created_at, updated_at, settled_at
	FROM orders`

// querier lets line loading run on the pool or inside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *OrderRepo) loadLines(ctx context.Context, q querier, o *domain.Order) error {
	query := `SELECT id, order_id, product_id, product_name, quantity, unit_price_cents, line_total_cents
		FROM order_lines WHERE order_id = $1 ORDER BY product_name`

	rows, err := q.Query(ctx, query, o.ID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName,
			&l.Quantity, &l.UnitPriceCents, &l.LineTotalCents)
		if err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order lines: %w", err)
	}
	return nil
}

func (r *OrderRepo) scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CheckoutRef, &o.MerchantID, &o.DeviceID, &o.UserID,
		&o.Status, &o.PaymentStatus, &o.TotalCents, &o.Currency,
		&o.CreatedAt, &o.UpdatedAt, &o.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}
