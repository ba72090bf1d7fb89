package postgres

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository. The ledger is append-only:
// status moves PENDING entries to a terminal state exactly once and
// completed history is never rewritten.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Create inserts a new ledger entry within a database transaction.
func (r *LedgerRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, wallet_id, order_id, kind, amount_cents, currency,
		status, description, tx_hash, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.WalletID, e.OrderID, e.Kind, e.AmountCents, e.Currency,
		e.Status, e.Description, e.TxHash, e.CreatedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// GetByID fetches a ledger entry by UUID.
func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	query := ledgerSelect + ` WHERE id = $1`
	return r.scanEntry(r.pool.QueryRow(ctx, query, id))
}

// GetByOrderID fetches all entries recorded for an order, oldest first.
func (r *LedgerRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := ledgerSelect + ` WHERE order_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		err := rows.Scan(
			&e.ID, &e.WalletID, &e.OrderID, &e.Kind, &e.AmountCents, &e.Currency,
			&e.Status, &e.Description, &e.TxHash, &e.CreatedAt, &e.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

// GetPendingByTxHash fetches the pending chain-transfer entry carrying the
// given transaction hash. Returns nil when none is pending, which makes
// confirmation callbacks idempotent.
func (r *LedgerRepo) GetPendingByTxHash(ctx context.Context, txHash string) (*domain.LedgerEntry, error) {
	query := ledgerSelect + ` WHERE tx_hash = $1 AND status = 'PENDING'`
	return r.scanEntry(r.pool.QueryRow(ctx, query, txHash))
}

// UpdateStatus moves a PENDING entry to a terminal state within a database
// transaction. completed_at is stamped on completion. Terminal entries are
// immutable, so updating one is an error.
func (r *LedgerRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EntryStatus) error {
	query := `UPDATE ledger_entries SET status = $1,
		completed_at = CASE WHEN $1 = 'COMPLETED' THEN now() ELSE completed_at END
		WHERE id = $2 AND status = 'PENDING'`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update ledger entry status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not pending: %s", id)
	}
	return nil
}

// SetTxHash links a submitted on-chain transfer to its pending entry.
func (r *LedgerRepo) SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	query := `UPDATE ledger_entries SET tx_hash = $1 WHERE id = $2 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, txHash, id)
	if err != nil {
		return fmt.Errorf("set ledger tx_hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not pending: %s", id)
	}
	return nil
}

// SumCompletedByWallet sums the signed amounts of all completed entries
// for a wallet. Used to audit the custodial balance against the ledger.
func (r *LedgerRepo) SumCompletedByWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries
		WHERE wallet_id = $1 AND status = 'COMPLETED'`

	var sum int64
	if err := r.pool.QueryRow(ctx, query, walletID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum, nil
}

const ledgerSelect = `SELECT id, wallet_id, order_id, kind, amount_cents, currency,
	status, description, tx_hash, created_at, completed_at
	FROM ledger_entries`

func (r *LedgerRepo) scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	err := row.Scan(
		&e.ID, &e.WalletID, &e.OrderID, &e.Kind, &e.AmountCents, &e.Currency,
		&e.Status, &e.Description, &e.TxHash, &e.CreatedAt, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	return e, nil
}
