package postgres

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentMethodRepo implements ports.PaymentMethodRepository.
type PaymentMethodRepo struct {
	pool Pool
}

// NewPaymentMethodRepo creates a new PaymentMethodRepo.
func NewPaymentMethodRepo(pool Pool) *PaymentMethodRepo {
	return &PaymentMethodRepo{pool: pool}
}

// Create inserts a new stored payment method.
func (r *PaymentMethodRepo) Create(ctx context.Context, m *domain.PaymentMethod) error {
	query := `INSERT INTO payment_methods (id, user_id, kind, external_ref, label, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		m.ID, m.UserID, m.Kind, m.ExternalRef, m.Label, m.IsDefault, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

// GetDefaultByUserID fetches the user's default payment method. Returns
// nil when the user has none; settlement then falls back to the wallet.
func (r *PaymentMethodRepo) GetDefaultByUserID(ctx context.Context, userID uuid.UUID) (*domain.PaymentMethod, error) {
	query := `SELECT id, user_id, kind, external_ref, label, is_default, created_at
		FROM payment_methods WHERE user_id = $1 AND is_default LIMIT 1`

	m := &domain.PaymentMethod{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.Kind, &m.ExternalRef, &m.Label, &m.IsDefault, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get default payment method: %w", err)
	}
	return m, nil
}
