package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// settleTimeout bounds a triggered settlement independently of the frame
// request's own deadline.
const settleTimeout = 15 * time.Second

// SessionParams tunes the per-device checkout state machine.
type SessionParams struct {
	WaitingTimeout   time.Duration
	ApproachTimeout  time.Duration
	PickedTimeout    time.Duration
	CheckoutTimeout  time.Duration
	GracePeriod      time.Duration // Max tracking loss before cancellation
	PickupThreshold  float64
	ConfirmThreshold float64
	ConfirmStreak    int // Consecutive qualifying frames to confirm
	JanitorInterval  time.Duration
}

// deviceSlot serializes all frame processing for one device.
type deviceSlot struct {
	mu   sync.Mutex
	sess *domain.Session
}

// SessionServiceImpl implements ports.SessionService.
//
// One session per device, advanced one stage at a time by frames. The
// confirm streak in CHECKOUT fires the settlement trigger at most once per
// session; the triggering frame's response carries the settlement outcome.
type SessionServiceImpl struct {
	deviceRepo ports.DeviceRepository
	matcher    ports.MatcherService
	settler    ports.SettlementService
	publisher  ports.EventPublisher
	params     SessionParams
	log        zerolog.Logger

	mu    sync.Mutex
	slots map[uuid.UUID]*deviceSlot
}

// NewSessionService creates a new SessionServiceImpl.
func NewSessionService(
	deviceRepo ports.DeviceRepository,
	matcher ports.MatcherService,
	settler ports.SettlementService,
	publisher ports.EventPublisher,
	params SessionParams,
	log zerolog.Logger,
) *SessionServiceImpl {
	return &SessionServiceImpl{
		deviceRepo: deviceRepo,
		matcher:    matcher,
		settler:    settler,
		publisher:  publisher,
		params:     params,
		log:        log,
		slots:      make(map[uuid.UUID]*deviceSlot),
	}
}

// HandleFrame processes one detection frame for a device. Frames for the
// same device are handled in arrival order under the device's lock; frames
// for different devices run independently.
func (s *SessionServiceImpl) HandleFrame(ctx context.Context, input ports.FrameInput) (*ports.FrameResult, error) {
	if input.DeviceID == uuid.Nil {
		return nil, apperror.Validation("device id required")
	}
	slot := s.slot(input.DeviceID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	now := time.Now().UTC()

	// Drop finished or expired sessions so a new engagement starts fresh.
	if sess := slot.sess; sess != nil {
		switch {
		case sess.IsTerminal():
			slot.sess = nil
		case now.After(s.stateDeadline(sess)):
			if sess.State == domain.SessionStateWaiting {
				// An idle waiting session recycles silently.
				slot.sess = nil
			} else {
				s.finish(sess, domain.SessionStateExpired, "timeout")
				slot.sess = nil
			}
		}
	}

	if slot.sess == nil {
		sess, err := s.openSession(ctx, input.DeviceID, now)
		if err != nil {
			return nil, err
		}
		slot.sess = sess
	}
	sess := slot.sess

	engaged := input.FaceDetected || input.HandPresent
	if engaged {
		sess.LastSignalAt = now
	} else if sess.State != domain.SessionStateWaiting && now.Sub(sess.LastSignalAt) > s.params.GracePeriod {
		s.finish(sess, domain.SessionStateCancelled, "tracking_lost")
		return &ports.FrameResult{Session: sessionView(sess), StateChanged: true}, nil
	}

	if input.Gesture != nil {
		sess.RecordSample(domain.GestureSample{
			DeviceID:   sess.DeviceID,
			Type:       input.Gesture.Label,
			Confidence: int(math.Round(input.Gesture.Confidence * 100)),
			At:         now,
		})
	}

	result := &ports.FrameResult{}

	// At most one stage per frame; signals for a later stage are ignored.
	switch sess.State {
	case domain.SessionStateWaiting:
		if engaged {
			s.advance(sess, domain.SessionStateApproaching, now)
			result.StateChanged = true
		}

	case domain.SessionStateApproaching:
		if item := boundPickup(input, s.params.PickupThreshold); item != nil {
			sess.Items = mergeItem(sess.Items, *item)
			s.advance(sess, domain.SessionStatePicked, now)
			result.StateChanged = true
		}

	case domain.SessionStatePicked:
		if item := boundPickup(input, s.params.PickupThreshold); item != nil {
			sess.Items = mergeItem(sess.Items, *item)
		}
		if !sess.VerifyAttempted && len(input.Probe) > 0 {
			// One verification attempt per session; a miss is not retried.
			sess.VerifyAttempted = true
			match, err := s.matcher.Match(ctx, input.Probe)
			if err != nil {
				s.log.Warn().Err(err).Str("device_id", sess.DeviceID.String()).Msg("identity verification failed")
			} else if match != nil {
				userID := match.UserID
				identityID := match.IdentityID
				sess.MatchedUserID = &userID
				sess.MatchedIdentityID = &identityID
				sess.MatchSimilarity = match.Similarity
				s.advance(sess, domain.SessionStateCheckout, now)
				result.StateChanged = true
			}
		}

	case domain.SessionStateCheckout:
		s.handleCheckout(ctx, sess, input, now, result)
	}

	result.Session = sessionView(sess)
	return result, nil
}

// handleCheckout counts the confirm streak and fires the settlement trigger
// once it is sustained. The trigger is latched: residual confirm frames
// after it cannot fire a second settlement.
func (s *SessionServiceImpl) handleCheckout(ctx context.Context, sess *domain.Session, input ports.FrameInput, now time.Time, result *ports.FrameResult) {
	if sess.SettleFired {
		return
	}

	var confidence float64
	qualifying := false
	if input.Gesture != nil && input.Gesture.Label == domain.GestureConfirm {
		confidence = input.Gesture.Confidence
		qualifying = confidence >= s.params.ConfirmThreshold
	}
	if !qualifying {
		sess.ConfirmStreak = 0
		return
	}
	sess.ConfirmStreak++
	if sess.ConfirmStreak < s.params.ConfirmStreak {
		return
	}

	sess.SettleFired = true

	req := ports.SettleRequest{
		CheckoutRef:       domain.BuildSessionCheckoutRef(sess.ID),
		DeviceID:          sess.DeviceID,
		UserID:            *sess.MatchedUserID,
		MerchantID:        sess.MerchantID,
		Items:             append([]domain.SessionItem(nil), sess.Items...),
		GestureConfidence: &confidence,
	}

	// Settlement must not die with the frame request.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	settled, err := s.settler.Settle(settleCtx, req)
	if err != nil {
		code := "SYS_001"
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			code = appErr.Code
		}
		result.SettlementError = code
		result.StateChanged = true
		s.finish(sess, domain.SessionStateCancelled, "settlement_failed")
		s.log.Warn().
			Str("device_id", sess.DeviceID.String()).
			Str("session_id", sess.ID.String()).
			Str("code", code).
			Msg("triggered settlement failed")
		return
	}

	result.Settled = settled
	result.StateChanged = true
	s.advance(sess, domain.SessionStateCompleted, now)
	s.log.Info().
		Str("device_id", sess.DeviceID.String()).
		Str("session_id", sess.ID.String()).
		Str("order_id", settled.Order.ID.String()).
		Bool("pending", settled.Pending).
		Msg("session settled")
}

// CancelSession explicitly cancels the device's active session.
func (s *SessionServiceImpl) CancelSession(ctx context.Context, deviceID uuid.UUID, reason string) error {
	if deviceID == uuid.Nil {
		return apperror.Validation("device id required")
	}
	slot := s.slot(deviceID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.sess == nil || slot.sess.IsTerminal() {
		return apperror.ErrNoActiveSession()
	}
	if reason == "" {
		reason = "cancelled"
	}
	s.finish(slot.sess, domain.SessionStateCancelled, reason)
	return nil
}

// GetSession returns the device's current session.
func (s *SessionServiceImpl) GetSession(ctx context.Context, deviceID uuid.UUID) (*domain.Session, error) {
	if deviceID == uuid.Nil {
		return nil, apperror.Validation("device id required")
	}
	slot := s.slot(deviceID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.sess == nil {
		return nil, apperror.ErrNoActiveSession()
	}
	return sessionView(slot.sess), nil
}

// Run sweeps sessions past their deadlines until ctx is cancelled.
func (s *SessionServiceImpl) Run(ctx context.Context) {
	ticker := time.NewTicker(s.params.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now().UTC())
		}
	}
}

// sweep expires sessions past their state deadline and cancels those whose
// tracking signal went quiet. Covers devices that stopped sending frames.
func (s *SessionServiceImpl) sweep(now time.Time) {
	for _, slot := range s.allSlots() {
		slot.mu.Lock()
		sess := slot.sess
		if sess == nil || sess.IsTerminal() {
			slot.mu.Unlock()
			continue
		}
		switch {
		case now.After(s.stateDeadline(sess)):
			if sess.State == domain.SessionStateWaiting {
				slot.sess = nil
			} else {
				s.finish(sess, domain.SessionStateExpired, "timeout")
			}
		case sess.State != domain.SessionStateWaiting && now.Sub(sess.LastSignalAt) > s.params.GracePeriod:
			s.finish(sess, domain.SessionStateCancelled, "tracking_lost")
		}
		slot.mu.Unlock()
	}
}

func (s *SessionServiceImpl) slot(deviceID uuid.UUID) *deviceSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[deviceID]
	if !ok {
		slot = &deviceSlot{}
		s.slots[deviceID] = slot
	}
	return slot
}

func (s *SessionServiceImpl) allSlots() []*deviceSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*deviceSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot)
	}
	return out
}

// openSession starts a fresh waiting session for a registered device.
func (s *SessionServiceImpl) openSession(ctx context.Context, deviceID uuid.UUID, now time.Time) (*domain.Session, error) {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load device: %w", err))
	}
	if device == nil {
		return nil, apperror.ErrNotFound("device")
	}
	if device.Status == domain.DeviceStatusDisabled {
		return nil, apperror.ErrDeviceNotOnline()
	}
	return &domain.Session{
		ID:               uuid.New(),
		DeviceID:         device.ID,
		MerchantID:       device.MerchantID,
		State:            domain.SessionStateWaiting,
		CreatedAt:        now,
		LastTransitionAt: now,
		LastSignalAt:     now,
	}, nil
}

// advance moves the session exactly one stage forward and announces it.
func (s *SessionServiceImpl) advance(sess *domain.Session, next domain.SessionState, now time.Time) {
	if !sess.CanAdvanceTo(next) {
		return
	}
	prev := sess.State
	sess.State = next
	sess.LastTransitionAt = now
	s.publishState(sess, prev, "")
}

// finish moves the session to a terminal state and announces it.
func (s *SessionServiceImpl) finish(sess *domain.Session, terminal domain.SessionState, reason string) {
	prev := sess.State
	sess.State = terminal
	sess.LastTransitionAt = time.Now().UTC()
	s.publishState(sess, prev, reason)
}

func (s *SessionServiceImpl) publishState(sess *domain.Session, prev domain.SessionState, reason string) {
	if s.publisher == nil {
		return
	}
	ev := domain.NewEvent(domain.EventSessionUpdated)
	deviceID := sess.DeviceID
	merchantID := sess.MerchantID
	ev.DeviceID = &deviceID
	ev.MerchantID = &merchantID
	ev.UserID = sess.MatchedUserID
	ev.Data = map[string]interface{}{
		"session_id": sess.ID.String(),
		"state":      string(sess.State),
		"previous":   string(prev),
	}
	if reason != "" {
		ev.Data["reason"] = reason
	}
	s.publisher.Publish(ev)
}

// stateDeadline is the wall-clock deadline for the session's current state.
func (s *SessionServiceImpl) stateDeadline(sess *domain.Session) time.Time {
	var ttl time.Duration
	switch sess.State {
	case domain.SessionStateWaiting:
		ttl = s.params.WaitingTimeout
	case domain.SessionStateApproaching:
		ttl = s.params.ApproachTimeout
	case domain.SessionStatePicked:
		ttl = s.params.PickedTimeout
	case domain.SessionStateCheckout:
		ttl = s.params.CheckoutTimeout
	default:
		return sess.LastTransitionAt
	}
	return sess.LastTransitionAt.Add(ttl)
}

// sessionView is a read-only copy safe to hand outside the device lock.
func sessionView(sess *domain.Session) *domain.Session {
	cp := *sess
	cp.Items = append([]domain.SessionItem(nil), sess.Items...)
	cp.Samples = nil
	return &cp
}

// boundPickup returns the item bound by a qualifying pickup gesture, or nil.
// A pickup without an item, or an item without the gesture, binds nothing.
func boundPickup(input ports.FrameInput, threshold float64) *domain.SessionItem {
	if input.Gesture == nil || input.Gesture.Label != domain.GesturePickup {
		return nil
	}
	if input.Gesture.Confidence < threshold {
		return nil
	}
	if input.Item == nil {
		return nil
	}
	qty := input.Item.Quantity
	if qty <= 0 {
		qty = 1
	}
	return &domain.SessionItem{ProductID: input.Item.ProductID, Quantity: qty}
}

// mergeItem accumulates quantity for an already-selected product.
func mergeItem(items []domain.SessionItem, item domain.SessionItem) []domain.SessionItem {
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].Quantity += item.Quantity
			return items
		}
	}
	return append(items, item)
}
