package middleware

import (
	"encoding/json"
	"time"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that logs successful write operations.
// It maps HTTP methods and route templates to audit actions.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == "GET" || c.Request.Method == "HEAD" || c.Request.Method == "OPTIONS" {
			return
		}

		// FullPath keeps the route template, so paths with an :id segment
		// still match.
		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		entry := &domain.AuditLog{
			ID:           uuid.New(),
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
			CreatedAt:    time.Now(),
		}
		if uid, ok := ctxUUID(c, CtxUserID); ok {
			entry.UserID = &uid
		}
		if did, ok := ctxUUID(c, CtxDeviceID); ok {
			entry.DeviceID = &did
		}
		if mid, ok := ctxUUID(c, CtxMerchantID); ok {
			entry.MerchantID = &mid
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
		entry.Details = string(details)

		auditSvc.Log(c.Request.Context(), entry)
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/checkout/settle" && method == "POST":
		return domain.AuditActionSettle, "order"
	case route == "/api/v1/checkout/cancel" && method == "POST":
		return domain.AuditActionCancelOrder, "order"
	case route == "/api/v1/identities" && method == "POST":
		return domain.AuditActionEnroll, "identity"
	case route == "/api/v1/identities/:id" && method == "DELETE":
		return domain.AuditActionDeactivateIdentity, "identity"
	case route == "/api/v1/devices/:id/session" && method == "DELETE":
		return domain.AuditActionResetSession, "session"
	}
	return "", ""
}

func ctxUUID(c *gin.Context, key string) (uuid.UUID, bool) {
	v, exists := c.Get(key)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
