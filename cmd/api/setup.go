package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appointment-intent-engine/cmd/mainconfig"
	appconfig "github.com/wolfman30/appointment-intent-engine/internal/config"
	"github.com/wolfman30/appointment-intent-engine/internal/events"
	"github.com/wolfman30/appointment-intent-engine/internal/http/handlers"
	"github.com/wolfman30/appointment-intent-engine/internal/interpret"
	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/store"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

func setupMetrics() (http.Handler, *metrics.IntentMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewIntentMetrics(reg)
}

// connectPostgresPool returns nil when no database URL is configured.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// setupStore picks the record store. The in-memory store serves local
// development and is never durable.
func setupStore(cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (scheduling.Store, func(context.Context) error) {
	if pool == nil || cfg.UseMemoryStore {
		logger.Warn("using in-memory record store; data is lost on restart")
		return store.NewMemory(), nil
	}
	return store.NewPostgres(pool), pool.Ping
}

// setupRedis returns nil when Redis is not configured or not reachable.
func setupRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable; interpretation cache and tenant settings disabled", "error", err, "addr", cfg.RedisAddr)
		_ = client.Close()
		return nil
	}
	return client
}

// tenantResolver serves tenant settings from Redis, or a fixed default
// timezone for every tenant when Redis is absent.
func tenantResolver(cfg *appconfig.Config, redisClient *redis.Client) (handlers.TenantResolver, *tenancy.SettingsStore, error) {
	if redisClient != nil {
		settings := tenancy.NewSettingsStore(redisClient, cfg.DefaultTimezone)
		return settings, settings, nil
	}
	loc, err := tenancy.DefaultSettings("", cfg.DefaultTimezone).Location()
	if err != nil {
		return nil, nil, err
	}
	return tenancy.StaticResolver{Location: loc}, nil, nil
}

// setupInterpretClient builds the model client for the configured provider.
// With both providers configured the other one becomes the fallback.
func setupInterpretClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (interpret.Client, interpret.Config, error) {
	icfg := interpret.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.BedrockModelID,
		Timeout:  cfg.InterpretTimeout,
	}

	var bedrock interpret.Client
	if cfg.BedrockModelID != "" {
		bedrock = interpret.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
	}
	var gemini interpret.Client
	if cfg.GeminiAPIKey != "" {
		client, err := interpret.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, icfg, err
		}
		gemini = client
	}

	switch cfg.LLMProvider {
	case "bedrock":
		if bedrock == nil {
			return nil, icfg, errors.New("BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		if gemini != nil {
			return interpret.NewFallbackClient(bedrock, gemini, logger), icfg, nil
		}
		return bedrock, icfg, nil
	case "gemini":
		if gemini == nil {
			return nil, icfg, errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		icfg.Model = cfg.GeminiModelID
		if bedrock != nil {
			// Bedrock reads the model from the request, so keep its id there.
			icfg.Model = cfg.BedrockModelID
			return interpret.NewFallbackClient(gemini, bedrock, logger), icfg, nil
		}
		return gemini, icfg, nil
	default:
		return nil, icfg, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// setupEmitter wires appointment event delivery. Events always go to the log.
// With a queue configured they are published to SQS and the events worker
// delivers them; otherwise email and the archive run inline.
func setupEmitter(cfg *appconfig.Config, awsCfg aws.Config, tenants handlers.TenantResolver, m *metrics.IntentMetrics, logger *logging.Logger) *events.Emitter {
	deliveries := []events.DeliveryHandler{events.NewLogHandler(logger)}
	if cfg.AppointmentEventsQueueURL != "" {
		deliveries = append(deliveries, events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.AppointmentEventsQueueURL))
	} else {
		deliveries = append(deliveries, mainconfig.DeliveryHandlers(cfg, awsCfg, tenants, logger)...)
	}
	return events.NewEmitter(m, logger, deliveries...)
}

// evictIdleLimiters drops per-tenant rate limiter state that has been idle
// for longer than idle. It returns when ctx is done.
func evictIdleLimiters(ctx context.Context, evict func(time.Time) int, every, idle time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := evict(now.Add(-idle)); n > 0 {
				logger.Debug("evicted idle rate limiters", "count", n)
			}
		}
	}
}
