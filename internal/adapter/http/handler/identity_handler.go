package handler

import (
	"face-checkout-core/internal/adapter/http/dto"
	"face-checkout-core/internal/adapter/http/middleware"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/pkg/apperror"
	"face-checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdentityHandler handles face enrollment endpoints.
type IdentityHandler struct {
	matcherSvc ports.MatcherService
}

// NewIdentityHandler creates a new IdentityHandler.
func NewIdentityHandler(matcherSvc ports.MatcherService) *IdentityHandler {
	return &IdentityHandler{matcherSvc: matcherSvc}
}

// Enroll handles POST /api/v1/identities. The enrolling user comes from the
// JWT, never from the body.
func (h *IdentityHandler) Enroll(c *gin.Context) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.EnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	identity, err := h.matcherSvc.Enroll(c.Request.Context(), ports.EnrollRequest{
		UserID:       userID.(uuid.UUID),
		Samples:      req.Samples,
		Qualities:    req.Qualities,
		ModelVersion: req.ModelVersion,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.EnrollmentResponse{
		IdentityID:   identity.ID.String(),
		SampleCount:  identity.SampleCount,
		QualityScore: identity.QualityScore,
		ModelVersion: identity.ModelVersion,
		Active:       identity.Active,
	})
}

// Deactivate handles DELETE /api/v1/identities/:id. Users can only
// deactivate their own enrollment.
func (h *IdentityHandler) Deactivate(c *gin.Context) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	identityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid identity id"))
		return
	}

	if err := h.matcherSvc.Deactivate(c.Request.Context(), userID.(uuid.UUID), identityID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"identity_id": identityID.String(), "active": false})
}
