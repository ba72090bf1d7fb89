package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

type deviceTestDeps struct {
	svc        *DeviceServiceImpl
	deviceRepo *mocks.MockDeviceRepository
	presence   *mocks.MockPresenceStore
	ctrl       *gomock.Controller
}

func setupDeviceService(t *testing.T) *deviceTestDeps {
	ctrl := gomock.NewController(t)
	d := &deviceTestDeps{
		deviceRepo: mocks.NewMockDeviceRepository(ctrl),
		presence:   mocks.NewMockPresenceStore(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewDeviceService(d.deviceRepo, d.presence, 90*time.Second, zerolog.Nop())
	return d
}

func TestDeviceService_Heartbeat_OnlineDevice(t *testing.T) {
	d := setupDeviceService(t)
	deviceID := uuid.New()

	d.deviceRepo.EXPECT().GetByID(gomock.Any(), deviceID).
		Return(&domain.Device{ID: deviceID, Status: domain.DeviceStatusOnline}, nil)
	d.presence.EXPECT().Heartbeat(gomock.Any(), deviceID.String(), 90*time.Second).Return(nil)
	d.deviceRepo.EXPECT().TouchLastSeen(gomock.Any(), deviceID).Return(nil)

	err := d.svc.Heartbeat(context.Background(), deviceID)
	assert.NoError(t, err)
}

func TestDeviceService_Heartbeat_RevivesOfflineDevice(t *testing.T) {
	d := setupDeviceService(t)
	deviceID := uuid.New()

	d.deviceRepo.EXPECT().GetByID(gomock.Any(), deviceID).
		Return(&domain.Device{ID: deviceID, Status: domain.DeviceStatusOffline}, nil)
	d.presence.EXPECT().Heartbeat(gomock.Any(), deviceID.String(), 90*time.Second).Return(nil)
	d.deviceRepo.EXPECT().UpdateStatus(gomock.Any(), deviceID, domain.DeviceStatusOnline).Return(nil)
	d.deviceRepo.EXPECT().TouchLastSeen(gomock.Any(), deviceID).Return(nil)

	err := d.svc.Heartbeat(context.Background(), deviceID)
	assert.NoError(t, err)
}

func TestDeviceService_Heartbeat_DisabledDeviceRejected(t *testing.T) {
	d := setupDeviceService(t)
	deviceID := uuid.New()

	d.deviceRepo.EXPECT().GetByID(gomock.Any(), deviceID).
		Return(&domain.Device{ID: deviceID, Status: domain.DeviceStatusDisabled}, nil)
	// No presence touch for a revoked station.

	err := d.svc.Heartbeat(context.Background(), deviceID)
	assertAppError(t, err, "PAY_010")
}

func TestDeviceService_Heartbeat_UnknownDevice(t *testing.T) {
	d := setupDeviceService(t)
	deviceID := uuid.New()

	d.deviceRepo.EXPECT().GetByID(gomock.Any(), deviceID).Return(nil, nil)

	err := d.svc.Heartbeat(context.Background(), deviceID)
	assertAppError(t, err, "PAY_004")
}

func TestDeviceService_Heartbeat_TouchFailureIsBestEffort(t *testing.T) {
	d := setupDeviceService(t)
	deviceID := uuid.New()

	d.deviceRepo.EXPECT().GetByID(gomock.Any(), deviceID).
		Return(&domain.Device{ID: deviceID, Status: domain.DeviceStatusOnline}, nil)
	d.presence.EXPECT().Heartbeat(gomock.Any(), deviceID.String(), 90*time.Second).Return(nil)
	d.deviceRepo.EXPECT().TouchLastSeen(gomock.Any(), deviceID).Return(errors.New("db down"))

	err := d.svc.Heartbeat(context.Background(), deviceID)
	assert.NoError(t, err)
}

func TestDeviceService_Heartbeat_PresenceFailureFails(t *testing.T) {
	d := setupDeviceService(t)
	deviceID := uuid.New()

	d.deviceRepo.EXPECT().GetByID(gomock.Any(), deviceID).
		Return(&domain.Device{ID: deviceID, Status: domain.DeviceStatusOnline}, nil)
	d.presence.EXPECT().Heartbeat(gomock.Any(), deviceID.String(), 90*time.Second).
		Return(errors.New("redis down"))

	err := d.svc.Heartbeat(context.Background(), deviceID)
	assertAppError(t, err, "SYS_001")
}
