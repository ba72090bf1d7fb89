package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeviceStatus represents the reachability state of a checkout device.
type DeviceStatus string

const (
	DeviceStatusOnline   DeviceStatus = "ONLINE"
	DeviceStatusOffline  DeviceStatus = "OFFLINE"
	DeviceStatusDisabled DeviceStatus = "DISABLED"
)

// Device represents a physical checkout station (camera + display) owned by
// a merchant. Devices authenticate with an access key and an HMAC secret.
type Device struct {
	ID           uuid.UUID    `json:"id"`
	MerchantID   uuid.UUID    `json:"merchant_id"`
	Name         string       `json:"name"`
	Location     string       `json:"location,omitempty"`
	AccessKey    string       `json:"access_key"`
	SecretKeyEnc string       `json:"-"` // Encrypted, never expose
	Status       DeviceStatus `json:"status"`
	LastSeenAt   *time.Time   `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsOnline returns true if the device is in an online reachability state.
func (d *Device) IsOnline() bool {
	return d.Status == DeviceStatusOnline
}
