package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"face-checkout-core/config"
	"face-checkout-core/internal/adapter/gateway"
	httpHandler "face-checkout-core/internal/adapter/http/handler"
	"face-checkout-core/internal/adapter/realtime"
	pgStorage "face-checkout-core/internal/adapter/storage/postgres"
	redisStorage "face-checkout-core/internal/adapter/storage/redis"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/internal/service"
	"face-checkout-core/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Face Checkout Core")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	userRepo := pgStorage.NewUserRepo(pool)
	identityRepo := pgStorage.NewIdentityRepo(pool)
	walletRepo := pgStorage.NewWalletRepo(pool)
	methodRepo := pgStorage.NewPaymentMethodRepo(pool)
	productRepo := pgStorage.NewProductRepo(pool)
	deviceRepo := pgStorage.NewDeviceRepo(pool)
	orderRepo := pgStorage.NewOrderRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	presenceStore := redisStorage.NewPresenceStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize external adapters
	cardGateway := gateway.NewCardGateway(cfg.Gateway, &http.Client{Timeout: cfg.Gateway.Timeout}, log)
	chainReader, err := gateway.NewChainReader(ctx, cfg.Chain.RPCURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
	}

	// Realtime hub for websocket notification fan-out
	hub := realtime.NewHub(cfg.Realtime, tokenSvc, deviceRepo, log)

	// Initialize business services
	auditSvc := service.NewAuditService(auditRepo, log)
	watcher := service.NewChainWatcher(chainReader, service.ChainWatcherParams{
		ConfirmationDepth: cfg.Chain.ConfirmationDepth,
		PollInterval:      cfg.Chain.PollInterval,
		WatchTimeout:      cfg.Chain.WatchTimeout,
	}, log)
	matcherSvc := service.NewMatcherService(identityRepo, encSvc, service.MatcherParams{
		Dimension:  cfg.Matcher.Dimension,
		Threshold:  cfg.Matcher.Threshold,
		MinSamples: cfg.Matcher.EnrollMinSamples,
		MinQuality: cfg.Matcher.EnrollMinQuality,
	}, log)
	deviceSvc := service.NewDeviceService(deviceRepo, presenceStore, cfg.Device.PresenceTTL, log)
	settlementSvc := service.NewSettlementService(
		userRepo,
		deviceRepo,
		walletRepo,
		methodRepo,
		productRepo,
		orderRepo,
		ledgerRepo,
		idempotencyCache,
		presenceStore,
		cardGateway,
		watcher,
		hub,
		transactor,
		service.SettlementParams{
			AutoApprovalLimitCents: cfg.Settlement.AutoApprovalLimitCents,
			ResultTTL:              cfg.Settlement.ResultTTL,
		},
		log,
	)
	sessionSvc := service.NewSessionService(deviceRepo, matcherSvc, settlementSvc, hub, service.SessionParams{
		WaitingTimeout:   cfg.Session.WaitingTimeout,
		ApproachTimeout:  cfg.Session.ApproachTimeout,
		PickedTimeout:    cfg.Session.PickedTimeout,
		CheckoutTimeout:  cfg.Session.CheckoutTimeout,
		GracePeriod:      cfg.Session.GracePeriod,
		PickupThreshold:  cfg.Session.PickupThreshold,
		ConfirmThreshold: cfg.Session.ConfirmThreshold,
		ConfirmStreak:    cfg.Session.ConfirmStreak,
		JanitorInterval:  cfg.Session.JanitorInterval,
	}, log)

	// Session janitor expires stalled sessions in the background
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go sessionSvc.Run(janitorCtx)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		SessionSvc:     sessionSvc,
		SettlementSvc:  settlementSvc,
		MatcherSvc:     matcherSvc,
		DeviceSvc:      deviceSvc,
		DeviceRepo:     deviceRepo,
		EncSvc:         encSvc,
		SigSvc:         sigSvc,
		NonceStore:     nonceStore,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		Hub:            hub,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		AuditSvc:       auditSvc,
		DeviceCfg:      cfg.Device,
		RateLimitCfg:   cfg.RateLimit,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain background workers after the listener stops accepting
	stopJanitor()
	watcher.Shutdown()
	hub.Shutdown()

	log.Info().Msg("Server exited")
}
