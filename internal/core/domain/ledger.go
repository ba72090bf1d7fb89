package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind represents the kind of money movement a ledger entry records.
// Only WALLET_DEBIT and WALLET_CREDIT affect a custodial wallet balance;
// card charges and on-chain transfers move money outside the platform.
type EntryKind string

const (
	EntryKindWalletDebit   EntryKind = "WALLET_DEBIT"
	EntryKindWalletCredit  EntryKind = "WALLET_CREDIT"
	EntryKindCardCharge    EntryKind = "CARD_CHARGE"
	EntryKindChainTransfer EntryKind = "CHAIN_TRANSFER"
)

// EntryStatus represents the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "PENDING"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusFailed    EntryStatus = "FAILED"
)

// LedgerEntry is an immutable, append-only record of one settlement attempt.
// Amounts are signed: debits are negative, credits positive. A failed
// attempt never mutates a prior completed entry.
type LedgerEntry struct {
	ID          uuid.UUID   `json:"id"` // Doubles as the unique transaction id
	WalletID    uuid.UUID   `json:"wallet_id"`
	OrderID     uuid.UUID   `json:"order_id"`
	Kind        EntryKind   `json:"kind"`
	AmountCents int64       `json:"amount_cents"`
	Currency    string      `json:"currency"`
	Status      EntryStatus `json:"status"`
	Description string      `json:"description,omitempty"`
	TxHash      *string     `json:"tx_hash,omitempty"` // Chain transfers only
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the entry is in a final state.
func (e *LedgerEntry) IsTerminal() bool {
	return e.Status == EntryStatusCompleted || e.Status == EntryStatusFailed
}

// AffectsBalance returns true for entry kinds that move the custodial
// wallet balance.
func (e *LedgerEntry) AffectsBalance() bool {
	return e.Kind == EntryKindWalletDebit || e.Kind == EntryKindWalletCredit
}
