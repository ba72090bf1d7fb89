package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of an order. Status is
// monotonic except for the explicit cancel transition from
// {PENDING, PROCESSING} to CANCELLED.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentStatus represents the payment state of an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "UNPAID"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Order represents a checkout order created atomically with its lines.
type Order struct {
	ID            uuid.UUID     `json:"id"`
	OrderNumber   string        `json:"order_number"`
	CheckoutRef   string        `json:"checkout_ref"` // Idempotency anchor, unique
	MerchantID    uuid.UUID     `json:"merchant_id"`
	DeviceID      uuid.UUID     `json:"device_id"`
	UserID        *uuid.UUID    `json:"user_id,omitempty"` // Nullable pre-settlement
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalCents    int64         `json:"total_cents"`
	Currency      string        `json:"currency"`
	Lines         []OrderLine   `json:"lines,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SettledAt     *time.Time    `json:"settled_at,omitempty"`
}

// OrderLine is a line item with its unit price snapshotted at order time.
type OrderLine struct {
	ID             uuid.UUID `json:"id"`
	OrderID        uuid.UUID `json:"order_id"`
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"` // Snapshot at order time
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"` // Snapshot at order time
	LineTotalCents int64     `json:"line_total_cents"`
}

// IsTerminal returns true if the order is in a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted ||
		o.Status == OrderStatusFailed ||
		o.Status == OrderStatusCancelled
}

// IsCancellable returns true if the order may still be cancelled.
func (o *Order) IsCancellable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusProcessing
}

// LinesTotal sums the snapshot line totals.
func (o *Order) LinesTotal() int64 {
	var sum int64
	for _, l := range o.Lines {
		sum += l.LineTotalCents
	}
	return sum
}
