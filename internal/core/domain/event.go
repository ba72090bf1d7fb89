package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType labels a real-time domain event.
type EventType string

const (
	EventSessionUpdated      EventType = "session_updated"
	EventOrderUpdated        EventType = "order_updated"
	EventSettlementCompleted EventType = "settlement_completed"
	EventSettlementFailed    EventType = "settlement_failed"
	EventChainConfirmation   EventType = "chain_confirmation"
)

// Event is a real-time notification fanned out to connected clients.
// Delivery is at-most-once and best-effort; events are never persisted
// beyond a short in-memory history ring.
type Event struct {
	Type       EventType              `json:"type"`
	ID         uuid.UUID              `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	UserID     *uuid.UUID             `json:"user_id,omitempty"`
	DeviceID   *uuid.UUID             `json:"device_id,omitempty"`
	MerchantID *uuid.UUID             `json:"merchant_id,omitempty"`
	OrderID    *uuid.UUID             `json:"order_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent constructs an event with a fresh id and timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
	}
}
