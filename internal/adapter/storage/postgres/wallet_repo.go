package postgres

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet into the database.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (id, user_id, kind, currency, balance_cents, chain_address, status, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.Kind, w.Currency, w.BalanceCents,
		w.ChainAddress, w.Status, w.IsDefault, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet by UUID.
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := walletSelect + ` WHERE id = $1`
	return r.scanWallet(r.pool.QueryRow(ctx, query, id))
}

// GetDefaultByUserID fetches the user's default wallet.
func (r *WalletRepo) GetDefaultByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	query := walletSelect + ` WHERE user_id = $1 AND is_default LIMIT 1`
	return r.scanWallet(r.pool.QueryRow(ctx, query, userID))
}

// DebitBalance conditionally decrements a custodial balance inside the
// given transaction. The WHERE clause carries the sufficiency check so the
// compare and the debit are one atomic statement; a false return means the
// balance no longer covers the amount.
func (r *WalletRepo) DebitBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amountCents int64) (bool, error) {
	query := `UPDATE wallets SET balance_cents = balance_cents - $2, updated_at = now()
		WHERE id = $1 AND balance_cents >= $2`

	tag, err := tx.Exec(ctx, query, walletID, amountCents)
	if err != nil {
		return false, fmt.Errorf("debit wallet balance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreditBalance increments a custodial balance inside the given transaction.
func (r *WalletRepo) CreditBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amountCents int64) error {
	query := `UPDATE wallets SET balance_cents = balance_cents + $2, updated_at = now() WHERE id = $1`

	tag, err := tx.Exec(ctx, query, walletID, amountCents)
	if err != nil {
		return fmt.Errorf("credit wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", walletID)
	}
	return nil
}

const walletSelect = `SELECT id, user_id, kind, currency, balance_cents, chain_address, status, is_default, created_at, updated_at
	FROM wallets`

func (r *WalletRepo) scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.Kind, &w.Currency, &w.BalanceCents,
		&w.ChainAddress, &w.Status, &w.IsDefault, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return w, nil
}
