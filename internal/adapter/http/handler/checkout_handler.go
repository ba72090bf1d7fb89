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

// CheckoutHandler handles settlement and order lifecycle endpoints.
type CheckoutHandler struct {
	settlementSvc ports.SettlementService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(settlementSvc ports.SettlementService) *CheckoutHandler {
	return &CheckoutHandler{settlementSvc: settlementSvc}
}

// Settle handles POST /api/v1/checkout/settle.
func (h *CheckoutHandler) Settle(c *gin.Context) {
	var req dto.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid device id"))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid user id"))
		return
	}
	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid merchant id"))
		return
	}
	// The settling device must be the one the request was signed by.
	if authed, ok := c.Get(middleware.CtxDeviceID); !ok || authed.(uuid.UUID) != deviceID {
		response.Error(c, apperror.ErrInvalidAccessKey())
		return
	}

	items := make([]domain.SessionItem, 0, len(req.Items))
	for _, it := range req.Items {
		productID, err := uuid.Parse(it.ProductID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid product id"))
			return
		}
		items = append(items, domain.SessionItem{ProductID: productID, Quantity: it.Quantity})
	}

	checkoutRef := req.CheckoutRef
	if checkoutRef == "" {
		// Without a client ref a retry after a dropped response is a new
		// checkout, so generate one per request.
		checkoutRef = "chk-" + uuid.NewString()
	} else {
		// Client refs are only unique per merchant.
		checkoutRef = domain.BuildClientCheckoutRef(merchantID, checkoutRef)
	}

	result, err := h.settlementSvc.Settle(c.Request.Context(), ports.SettleRequest{
		CheckoutRef:       checkoutRef,
		DeviceID:          deviceID,
		UserID:            userID,
		MerchantID:        merchantID,
		Items:             items,
		GestureConfidence: req.GestureConfidence,
		ClientIP:          c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// Cancel handles POST /api/v1/checkout/cancel.
func (h *CheckoutHandler) Cancel(c *gin.Context) {
	var req dto.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	order, err := h.settlementSvc.CancelOrder(c.Request.Context(), ports.CancelRequest{
		OrderID:  orderID,
		Reason:   req.Reason,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, order)
}

// GetOrder handles GET /api/v1/orders/:id.
func (h *CheckoutHandler) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	order, err := h.settlementSvc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, order)
}

// AttachChainTx handles POST /api/v1/orders/:id/chain-tx.
func (h *CheckoutHandler) AttachChainTx(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	var req dto.ChainTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	if err := h.settlementSvc.AttachChainTx(c.Request.Context(), orderID, req.TxHash); err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, gin.H{"order_id": orderID.String(), "tx_hash": req.TxHash})
}
