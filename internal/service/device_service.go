package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/pkg/apperror"
)

// DeviceServiceImpl tracks station liveness. Heartbeats refresh a TTL'd
// presence key; the durable status row is only written when a device comes
// back from OFFLINE, keeping the hot path to a single redis touch.
type DeviceServiceImpl struct {
	deviceRepo  ports.DeviceRepository
	presence    ports.PresenceStore
	presenceTTL time.Duration
	log         zerolog.Logger
}

// NewDeviceService creates a new device service instance.
func NewDeviceService(
	deviceRepo ports.DeviceRepository,
	presence ports.PresenceStore,
	presenceTTL time.Duration,
	log zerolog.Logger,
) *DeviceServiceImpl {
	return &DeviceServiceImpl{
		deviceRepo:  deviceRepo,
		presence:    presence,
		presenceTTL: presenceTTL,
		log:         log,
	}
}

// Heartbeat refreshes the presence window for a device and flips its durable
// status back to ONLINE if it had lapsed. Disabled devices are rejected so a
// revoked station cannot keep itself alive.
func (s *DeviceServiceImpl) Heartbeat(ctx context.Context, deviceID uuid.UUID) error {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("load device: %w", err))
	}
	if device == nil {
		return apperror.ErrNotFound("device")
	}
	if device.Status == domain.DeviceStatusDisabled {
		return apperror.ErrDeviceNotOnline()
	}

	if err := s.presence.Heartbeat(ctx, deviceID.String(), s.presenceTTL); err != nil {
		return apperror.InternalError(fmt.Errorf("record presence: %w", err))
	}

	if device.Status == domain.DeviceStatusOffline {
		if err := s.deviceRepo.UpdateStatus(ctx, deviceID, domain.DeviceStatusOnline); err != nil {
			return apperror.InternalError(fmt.Errorf("update device status: %w", err))
		}
		s.log.Info().
			Str("device_id", deviceID.String()).
			Msg("Device back online")
	}

	// last_seen_at is informational; a failed touch must not fail the beat.
	if err := s.deviceRepo.TouchLastSeen(ctx, deviceID); err != nil {
		s.log.Warn().Err(err).
			Str("device_id", deviceID.String()).
			Msg("Failed to update device last_seen_at")
	}

	return nil
}
