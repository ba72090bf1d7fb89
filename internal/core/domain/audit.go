package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSettle             AuditAction = "SETTLE"
	AuditActionCancelOrder        AuditAction = "CANCEL_ORDER"
	AuditActionEnroll             AuditAction = "ENROLL"
	AuditActionDeactivateIdentity AuditAction = "DEACTIVATE_IDENTITY"
	AuditActionResetSession       AuditAction = "RESET_SESSION"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	MerchantID   *uuid.UUID  `json:"merchant_id,omitempty"`
	UserID       *uuid.UUID  `json:"user_id,omitempty"`
	DeviceID     *uuid.UUID  `json:"device_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
