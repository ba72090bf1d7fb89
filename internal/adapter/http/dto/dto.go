package dto

import (
	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
)

// FrameRequest is one processed camera frame posted by a device. The
// embedding is produced by the device-side extractor; raw images never
// reach this API.
type FrameRequest struct {
	FaceDetected       bool        `json:"face_detected"`
	DetectorConfidence float64     `json:"detector_confidence" binding:"gte=0,lte=1"`
	Embedding          []float32   `json:"embedding,omitempty"`
	HandPresent        bool        `json:"hand_present"`
	Gesture            *GestureDTO `json:"gesture,omitempty"`
	Item               *ItemDTO    `json:"item,omitempty"`
}

// GestureDTO is a recognized hand gesture with its confidence.
type GestureDTO struct {
	Label      string  `json:"label" binding:"required,oneof=PICKUP CONFIRM"`
	Confidence float64 `json:"confidence" binding:"gte=0,lte=1"`
}

// ItemDTO is a product selection.
type ItemDTO struct {
	ProductID string `json:"product_id" binding:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,gte=1,lte=20"`
}

// FrameResponse reports the session after a frame and, when the confirm
// trigger fired, the settlement outcome.
type FrameResponse struct {
	Session         *domain.Session     `json:"session"`
	StateChanged    bool                `json:"state_changed"`
	Settled         *ports.SettleResult `json:"settled,omitempty"`
	SettlementError string              `json:"settlement_error,omitempty"`
}

// HeartbeatResponse acknowledges a device heartbeat.
type HeartbeatResponse struct {
	DeviceID string `json:"device_id"`
	Alive    bool   `json:"alive"`
}

// SettleRequest is the request body for checkout settlement. CheckoutRef is
// the idempotency anchor; when absent the server generates one, giving up
// retry safety across connections.
type SettleRequest struct {
	CheckoutRef       string    `json:"checkout_ref,omitempty" binding:"omitempty,max=100,safe_id"`
	DeviceID          string    `json:"device_id" binding:"required,uuid"`
	UserID            string    `json:"user_id" binding:"required,uuid"`
	MerchantID        string    `json:"merchant_id" binding:"required,uuid"`
	Items             []ItemDTO `json:"items" binding:"required,min=1,max=20,dive"`
	GestureConfidence *float64  `json:"gesture_confidence,omitempty" binding:"omitempty,gte=0,lte=1"`
}

// CancelRequest is the request body for order cancellation.
type CancelRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
	Reason  string `json:"reason,omitempty" binding:"omitempty,max=200"`
}

// EnrollmentRequest is the request body for face enrollment. Samples and
// Qualities are parallel: one detector quality score per embedding.
type EnrollmentRequest struct {
	Samples      [][]float32 `json:"samples" binding:"required,min=1,max=10"`
	Qualities    []float64   `json:"qualities" binding:"required,min=1,max=10"`
	ModelVersion string      `json:"model_version" binding:"required,max=50,safe_id"`
}

// EnrollmentResponse is the response body for a successful enrollment.
type EnrollmentResponse struct {
	IdentityID   string  `json:"identity_id"`
	SampleCount  int     `json:"sample_count"`
	QualityScore float64 `json:"quality_score"`
	ModelVersion string  `json:"model_version"`
	Active       bool    `json:"active"`
}

// ChainTxRequest attaches a broadcast on-chain transfer to a pending order.
type ChainTxRequest struct {
	TxHash string `json:"tx_hash" binding:"required,tx_hash"`
}
