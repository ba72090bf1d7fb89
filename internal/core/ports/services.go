package ports

import (
	"context"
	"time"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(subjectID uuid.UUID, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	SubjectID uuid.UUID
	Role      string
}

// IdempotencyCache is the Redis-layer settlement result cache (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, deviceID string, nonce string, ttl time.Duration) (bool, error)
}

// PresenceStore tracks device reachability via heartbeat keys with TTL.
type PresenceStore interface {
	Heartbeat(ctx context.Context, deviceID string, ttl time.Duration) error
	IsAlive(ctx context.Context, deviceID string) (bool, error)
}

// --- Service Ports (Business Logic) ---

// MatcherService finds the best enrolled identity for a probe embedding
// and manages enrollments.
type MatcherService interface {
	// Match returns the best identity at or above the similarity threshold,
	// or (nil, nil) when nothing qualifies. Callers must not expose
	// similarity scores for failed matches.
	Match(ctx context.Context, probe []float32) (*domain.MatchResult, error)
	Enroll(ctx context.Context, req EnrollRequest) (*domain.EnrolledIdentity, error)
	Deactivate(ctx context.Context, userID, identityID uuid.UUID) error
}

// EnrollRequest holds validated input for face enrollment.
type EnrollRequest struct {
	UserID       uuid.UUID
	Samples      [][]float32
	Qualities    []float64
	ModelVersion string
}

// SessionService drives the per-device checkout state machine.
type SessionService interface {
	HandleFrame(ctx context.Context, input FrameInput) (*FrameResult, error)
	CancelSession(ctx context.Context, deviceID uuid.UUID, reason string) error
	GetSession(ctx context.Context, deviceID uuid.UUID) (*domain.Session, error)
}

// FrameInput is one processed camera frame from a device.
type FrameInput struct {
	DeviceID           uuid.UUID
	FaceDetected       bool
	DetectorConfidence float64   // 0-1
	Probe              []float32 // Embedding; empty when no usable face crop
	HandPresent        bool
	Gesture            *GestureInput
	Item               *ItemDetection
}

// GestureInput is a recognized gesture with its confidence.
type GestureInput struct {
	Label      domain.GestureType
	Confidence float64 // 0-1
}

// ItemDetection binds a recognized product pickup to the session.
type ItemDetection struct {
	ProductID uuid.UUID
	Quantity  int
}

// FrameResult reports the session after a frame and, when the confirm
// trigger fired, the settlement outcome.
type FrameResult struct {
	Session         *domain.Session
	StateChanged    bool
	Settled         *SettleResult // Non-nil when settlement ran and succeeded or went pending
	SettlementError string        // Error code when the triggered settlement failed
}

// SettlementService executes checkout settlement and order lifecycle.
type SettlementService interface {
	Settle(ctx context.Context, req SettleRequest) (*SettleResult, error)
	CancelOrder(ctx context.Context, req CancelRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// AttachChainTx links a submitted on-chain transfer to a pending order
	// and starts the confirmation watch.
	AttachChainTx(ctx context.Context, orderID uuid.UUID, txHash string) error
	// ResolveChain finishes a pending on-chain settlement once the transfer
	// is confirmed or failed. Idempotent on retry.
	ResolveChain(ctx context.Context, txHash string, confirmed bool) error
}

// SettleRequest holds validated input for settlement.
type SettleRequest struct {
	CheckoutRef       string
	DeviceID          uuid.UUID
	UserID            uuid.UUID
	MerchantID        uuid.UUID
	Items             []domain.SessionItem
	GestureConfidence *float64
	ClientIP          string
}

// SettleResult is the settlement outcome for a created order.
type SettleResult struct {
	Order   *domain.Order `json:"order"`
	Pending bool          `json:"pending"`
}

// CancelRequest holds validated input for order cancellation.
type CancelRequest struct {
	OrderID  uuid.UUID
	Reason   string
	ClientIP string
}

// DeviceService handles device liveness.
type DeviceService interface {
	Heartbeat(ctx context.Context, deviceID uuid.UUID) error
}

// PaymentGateway is the external card-charging collaborator. VoidPayment
// compensates a captured charge whose order cannot be finalized.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, req GatewayChargeRequest) (*GatewayResult, error)
	VoidPayment(ctx context.Context, orderID uuid.UUID) error
}

// GatewayChargeRequest holds input for a gateway charge.
type GatewayChargeRequest struct {
	UserID      uuid.UUID
	OrderID     uuid.UUID
	MethodRef   string
	AmountCents int64
	Currency    string
}

// GatewayResult is the gateway's charge outcome.
type GatewayResult struct {
	Success   bool
	Pending   bool
	Reference string
	Code      string // Decline code when not successful
}

// ChainClient reads on-chain transfer status.
type ChainClient interface {
	TxStatus(ctx context.Context, txHash string) (*ChainTxStatus, error)
}

// ChainTxStatus is a point-in-time view of an on-chain transfer.
type ChainTxStatus struct {
	Found         bool
	Failed        bool
	Confirmations uint64
}

// ChainWatcher runs bounded, cancellable background watches for on-chain
// transfers. done is called at most once with the final outcome; an
// explicitly cancelled watch does not report.
type ChainWatcher interface {
	Watch(orderID uuid.UUID, txHash string, done func(confirmed bool))
	Cancel(orderID uuid.UUID)
}

// EventPublisher fans out real-time events. Publishing never blocks the
// caller; delivery is at-most-once, best-effort.
type EventPublisher interface {
	Publish(event domain.Event)
}

// AuditService records audited actions without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
