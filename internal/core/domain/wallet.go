package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletKind distinguishes platform-held balances from user-controlled
// on-chain wallets.
type WalletKind string

const (
	WalletKindCustodial    WalletKind = "CUSTODIAL"
	WalletKindNonCustodial WalletKind = "NON_CUSTODIAL"
)

// WalletStatus represents the state of a wallet.
type WalletStatus string

const (
	WalletStatusActive WalletStatus = "ACTIVE"
	WalletStatusPaused WalletStatus = "PAUSED"
	WalletStatusClosed WalletStatus = "CLOSED"
)

// Wallet represents a user's payment wallet. Custodial wallets carry an
// authoritative minor-unit balance mutated only through atomic ledger
// operations. Non-custodial wallets hold a chain address; their balance
// lives on chain and is advisory here.
type Wallet struct {
	ID           uuid.UUID    `json:"id"`
	UserID       uuid.UUID    `json:"user_id"`
	Kind         WalletKind   `json:"kind"`
	Currency     string       `json:"currency"`
	BalanceCents int64        `json:"balance_cents"` // Custodial only
	ChainAddress *string      `json:"chain_address,omitempty"`
	Status       WalletStatus `json:"status"`
	IsDefault    bool         `json:"is_default"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsActive returns true if the wallet can participate in settlement.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// IsCustodial returns true for platform-held wallets.
func (w *Wallet) IsCustodial() bool {
	return w.Kind == WalletKindCustodial
}
