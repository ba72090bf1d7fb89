package handler

import (
	"face-checkout-core/config"
	"face-checkout-core/internal/adapter/http/middleware"
	"face-checkout-core/internal/adapter/realtime"
	redisStore "face-checkout-core/internal/adapter/storage/redis"
	"face-checkout-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	SessionSvc     ports.SessionService
	SettlementSvc  ports.SettlementService
	MatcherSvc     ports.MatcherService
	DeviceSvc      ports.DeviceService
	DeviceRepo     ports.DeviceRepository
	EncSvc         ports.EncryptionService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	Hub            *realtime.Hub              // nil = realtime disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	DeviceCfg      config.DeviceConfig
	RateLimitCfg   config.RateLimitConfig
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Realtime notifications; auth happens on the socket, not here.
	if deps.Hub != nil {
		wsHandler := NewWSHandler(deps.Hub, deps.Logger)
		r.GET("/ws", wsHandler.Serve)
	}

	// Rate limit rules
	rules := middleware.RulesFromConfig(deps.RateLimitCfg)

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Device-key routes (signed device API) ---
	deviceAuth := middleware.DeviceAuth(
		deps.DeviceRepo, deps.EncSvc, deps.SigSvc, deps.NonceStore,
		deps.DeviceCfg.TimestampWindow, deps.DeviceCfg.NonceTTL, deps.Logger,
	)
	deviceHandler := NewDeviceHandler(deps.SessionSvc, deps.DeviceSvc)
	checkoutHandler := NewCheckoutHandler(deps.SettlementSvc)

	devices := v1.Group("/devices", deviceAuth)
	{
		devices.POST("/:id/frames", rl("frames"), deviceHandler.PostFrame)
		devices.POST("/:id/heartbeat", rl("frames"), deviceHandler.Heartbeat)
		devices.GET("/:id/session", rl("frames"), deviceHandler.GetSession)
		devices.DELETE("/:id/session", rl("settle"), deviceHandler.ResetSession)
	}

	checkout := v1.Group("/checkout", deviceAuth)
	{
		checkout.POST("/settle", rl("settle"), checkoutHandler.Settle)
		checkout.POST("/cancel", rl("settle"), checkoutHandler.Cancel)
	}

	// --- JWT-authenticated routes (shopper/operator API) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	identityHandler := NewIdentityHandler(deps.MatcherSvc)

	orders := v1.Group("/orders", jwtAuth)
	{
		orders.GET("/:id", checkoutHandler.GetOrder)
		orders.POST("/:id/chain-tx", rl("settle"), checkoutHandler.AttachChainTx)
	}

	identities := v1.Group("/identities", jwtAuth)
	{
		identities.POST("", rl("enroll"), identityHandler.Enroll)
		identities.DELETE("/:id", rl("enroll"), identityHandler.Deactivate)
	}

	return r
}
