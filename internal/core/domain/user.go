package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus represents the state of a user account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
	UserStatusClosed    UserStatus = "CLOSED"
)

// User represents a registered shopper.
type User struct {
	ID                     uuid.UUID  `json:"id"`
	FullName               string     `json:"full_name"`
	Email                  string     `json:"email"`
	FaceAuthEnabled        bool       `json:"face_auth_enabled"`
	AutoApprovalLimitCents int64      `json:"auto_approval_limit_cents"`
	Status                 UserStatus `json:"status"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IsActive returns true if the user account is active.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// CanFaceAuth returns true if face-based checkout is allowed for this user.
func (u *User) CanFaceAuth() bool {
	return u.IsActive() && u.FaceAuthEnabled
}
