package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState represents the stage of a checkout session. Sessions advance
// one stage at a time; signals that jump ahead are ignored, never
// fast-forwarded.
type SessionState string

const (
	SessionStateWaiting     SessionState = "WAITING"     // No person engaged yet
	SessionStateApproaching SessionState = "APPROACHING" // Face or hand detected
	SessionStatePicked      SessionState = "PICKED"      // Product bound via pickup gesture
	SessionStateCheckout    SessionState = "CHECKOUT"    // Identity matched, summary shown
	SessionStateCompleted   SessionState = "COMPLETED"   // Settlement triggered
	SessionStateCancelled   SessionState = "CANCELLED"
	SessionStateExpired     SessionState = "EXPIRED"
)

// stageRank orders the progressing states for single-step advancement checks.
var stageRank = map[SessionState]int{
	SessionStateWaiting:     0,
	SessionStateApproaching: 1,
	SessionStatePicked:      2,
	SessionStateCheckout:    3,
	SessionStateCompleted:   4,
}

// GestureType labels a recognized hand gesture.
type GestureType string

const (
	GesturePickup  GestureType = "PICKUP"
	GestureConfirm GestureType = "CONFIRM"
)

// GestureSample is ephemeral gesture telemetry, not authoritative state.
type GestureSample struct {
	DeviceID   uuid.UUID   `json:"device_id"`
	Type       GestureType `json:"type"`
	Confidence int         `json:"confidence"` // 0-100
	At         time.Time   `json:"at"`
}

// maxGestureSamples bounds the telemetry kept per session.
const maxGestureSamples = 64

// SessionItem is a product selection bound to a session before settlement.
type SessionItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// Session is one checkout attempt on one device. It lives only in memory
// for the duration of the checkout and is destroyed on completion,
// cancellation, or timeout. At most one identity can be matched per session.
type Session struct {
	ID                uuid.UUID       `json:"id"`
	DeviceID          uuid.UUID       `json:"device_id"`
	MerchantID        uuid.UUID       `json:"merchant_id"`
	State             SessionState    `json:"state"`
	MatchedUserID     *uuid.UUID      `json:"matched_user_id,omitempty"`
	MatchedIdentityID *uuid.UUID      `json:"-"`
	MatchSimilarity   float64         `json:"match_similarity,omitempty"`
	VerifyAttempted   bool            `json:"-"` // Identity match tried at most once
	Items             []SessionItem   `json:"items"`
	Samples           []GestureSample `json:"-"`
	ConfirmStreak     int             `json:"-"` // Consecutive frames above confirm threshold
	SettleFired       bool            `json:"-"` // The at-most-once settlement trigger latch
	CreatedAt         time.Time       `json:"created_at"`
	LastTransitionAt  time.Time       `json:"last_transition_at"`
	LastSignalAt      time.Time       `json:"last_signal_at"`
}

// IsTerminal returns true if the session has finished.
func (s *Session) IsTerminal() bool {
	return s.State == SessionStateCompleted ||
		s.State == SessionStateCancelled ||
		s.State == SessionStateExpired
}

// CanAdvanceTo returns true only for a single-step forward transition.
func (s *Session) CanAdvanceTo(next SessionState) bool {
	cur, ok := stageRank[s.State]
	if !ok {
		return false
	}
	n, ok := stageRank[next]
	if !ok {
		return false
	}
	return n == cur+1
}

// RecordSample appends gesture telemetry, keeping the buffer bounded.
func (s *Session) RecordSample(sample GestureSample) {
	s.Samples = append(s.Samples, sample)
	if len(s.Samples) > maxGestureSamples {
		s.Samples = s.Samples[len(s.Samples)-maxGestureSamples:]
	}
}
