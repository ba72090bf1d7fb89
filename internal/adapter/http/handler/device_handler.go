package handler

import (
	"face-checkout-core/internal/adapter/http/dto"
	"face-checkout-core/internal/adapter/http/middleware"
	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/pkg/apperror"
	"face-checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeviceHandler handles per-device endpoints: frames, heartbeat, session.
type DeviceHandler struct {
	sessionSvc ports.SessionService
	deviceSvc  ports.DeviceService
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(sessionSvc ports.SessionService, deviceSvc ports.DeviceService) *DeviceHandler {
	return &DeviceHandler{sessionSvc: sessionSvc, deviceSvc: deviceSvc}
}

// pathDeviceID parses the :id segment and checks it matches the device the
// request was signed by. A device can only act on itself.
func pathDeviceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid device id"))
		return uuid.Nil, false
	}
	authed, ok := c.Get(middleware.CtxDeviceID)
	if !ok || authed.(uuid.UUID) != id {
		response.Error(c, apperror.ErrInvalidAccessKey())
		return uuid.Nil, false
	}
	return id, true
}

// PostFrame handles POST /api/v1/devices/:id/frames.
func (h *DeviceHandler) PostFrame(c *gin.Context) {
	deviceID, ok := pathDeviceID(c)
	if !ok {
		return
	}

	var req dto.FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	input := ports.FrameInput{
		DeviceID:           deviceID,
		FaceDetected:       req.FaceDetected,
		DetectorConfidence: req.DetectorConfidence,
		Probe:              req.Embedding,
		HandPresent:        req.HandPresent,
	}
	if req.Gesture != nil {
		input.Gesture = &ports.GestureInput{
			Label:      domain.GestureType(req.Gesture.Label),
			Confidence: req.Gesture.Confidence,
		}
	}
	if req.Item != nil {
		productID, err := uuid.Parse(req.Item.ProductID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid product id"))
			return
		}
		input.Item = &ports.ItemDetection{
			ProductID: productID,
			Quantity:  req.Item.Quantity,
		}
	}

	result, err := h.sessionSvc.HandleFrame(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FrameResponse{
		Session:         result.Session,
		StateChanged:    result.StateChanged,
		Settled:         result.Settled,
		SettlementError: result.SettlementError,
	})
}

// Heartbeat handles POST /api/v1/devices/:id/heartbeat.
func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	deviceID, ok := pathDeviceID(c)
	if !ok {
		return
	}

	if err := h.deviceSvc.Heartbeat(c.Request.Context(), deviceID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.HeartbeatResponse{DeviceID: deviceID.String(), Alive: true})
}

// GetSession handles GET /api/v1/devices/:id/session.
func (h *DeviceHandler) GetSession(c *gin.Context) {
	deviceID, ok := pathDeviceID(c)
	if !ok {
		return
	}

	sess, err := h.sessionSvc.GetSession(c.Request.Context(), deviceID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, sess)
}

// ResetSession handles DELETE /api/v1/devices/:id/session.
func (h *DeviceHandler) ResetSession(c *gin.Context) {
	deviceID, ok := pathDeviceID(c)
	if !ok {
		return
	}

	reason := c.DefaultQuery("reason", "device reset")
	if err := h.sessionSvc.CancelSession(c.Request.Context(), deviceID, reason); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"device_id": deviceID.String(), "cancelled": true})
}
