package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/appointment-intent-engine/cmd/mainconfig"
	"github.com/wolfman30/appointment-intent-engine/internal/api/router"
	"github.com/wolfman30/appointment-intent-engine/internal/availability"
	appconfig "github.com/wolfman30/appointment-intent-engine/internal/config"
	"github.com/wolfman30/appointment-intent-engine/internal/dispatch"
	"github.com/wolfman30/appointment-intent-engine/internal/engine"
	"github.com/wolfman30/appointment-intent-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/appointment-intent-engine/internal/http/middleware"
	"github.com/wolfman30/appointment-intent-engine/internal/interpret"
	"github.com/wolfman30/appointment-intent-engine/internal/resolver"
	"github.com/wolfman30/appointment-intent-engine/migrations"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment intent API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, intentMetrics := setupMetrics()

	pool, err := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		if cfg.AutoMigrate {
			version, err := migrations.Up(ctx, cfg.DatabaseURL)
			if err != nil {
				logger.Error("failed to apply migrations", "error", err)
				os.Exit(1)
			}
			logger.Info("schema migrations applied", "schema_version", version)
		}
	}
	records, ready := setupStore(cfg, pool, logger)

	redisClient := setupRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	tenants, settingsStore, err := tenantResolver(cfg, redisClient)
	if err != nil {
		logger.Error("invalid default timezone", "error", err)
		os.Exit(1)
	}

	llmClient, interpretCfg, err := setupInterpretClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure interpretation client", "error", err)
		os.Exit(1)
	}
	interpreter := interpret.New(llmClient, records, interpretCfg,
		interpret.NewCache(redisClient, cfg.InterpretCacheTTL), intentMetrics, logger)

	entityResolver := resolver.New(records, resolver.Options{
		Honorifics: cfg.AttendantHonorifics,
		Strict:     cfg.StrictAttendantMatch,
	}, intentMetrics, logger)
	emitter := setupEmitter(cfg, awsCfg, tenants, intentMetrics, logger)

	eng := engine.New(engine.Deps{
		Interpreter: interpreter,
		Dispatcher:  dispatch.New(records, entityResolver, emitter, logger),
		Slots:       availability.New(records, logger),
		Attendants:  records,
		Resolver:    entityResolver,
	}, engine.Config{
		DefaultLimit: cfg.SuggestDefaultLimit,
		MaxDays:      cfg.SuggestMaxDays,
	}, intentMetrics, logger)

	limiter := httpmiddleware.NewTenantRateLimiter(cfg.TenantRatePerSec, cfg.TenantRateBurst)
	go evictIdleLimiters(ctx, limiter.Evict, time.Minute, 10*time.Minute, logger)

	routerCfg := &router.Config{
		Logger:             logger,
		Intents:            handlers.NewIntentHandler(eng, tenants, logger),
		RateLimiter:        limiter,
		MetricsHandler:     metricsHandler,
		TenantJWTSecret:    cfg.TenantJWTSecret,
		AdminToken:         cfg.AdminToken,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Ready:              ready,
	}
	if settingsStore != nil {
		routerCfg.TenantSettings = handlers.NewTenantSettingsHandler(settingsStore, logger)
	}
	if cfg.TenantJWTSecret == "" {
		logger.Warn("TENANT_JWT_SECRET is empty; all /v1 requests will be rejected")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.InterpretTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
