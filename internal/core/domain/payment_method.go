package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethodKind represents the kind of stored payment method.
type PaymentMethodKind string

const (
	PaymentMethodKindCard          PaymentMethodKind = "CARD"
	PaymentMethodKindOnChainWallet PaymentMethodKind = "ON_CHAIN_WALLET"
)

// PaymentMethod represents a stored payment instrument. Immutable once
// created except for the default flag and removal.
type PaymentMethod struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	Kind        PaymentMethodKind `json:"kind"`
	ExternalRef string            `json:"-"` // Gateway token or chain address, never expose
	Label       string            `json:"label,omitempty"`
	IsDefault   bool              `json:"is_default"`
	CreatedAt   time.Time         `json:"created_at"`
}
