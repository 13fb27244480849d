package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appointment-intent-engine/cmd/mainconfig"
	appconfig "github.com/wolfman30/appointment-intent-engine/internal/config"
	"github.com/wolfman30/appointment-intent-engine/internal/notify"
	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/internal/worker"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.AppointmentEventsQueueURL == "" {
		logger.Error("events worker requires APPOINTMENT_EVENTS_QUEUE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	resolver, err := tenants(cfg, redisClient)
	if err != nil {
		logger.Error("invalid default timezone", "error", err)
		os.Exit(1)
	}
	handlers := mainconfig.DeliveryHandlers(cfg, awsCfg, resolver, logger)
	if len(handlers) == 0 {
		logger.Warn("no delivery handlers configured; events will be acknowledged and dropped")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	opts := []worker.Option{
		worker.WithWorkers(cfg.EventWorkerCount),
		worker.WithMetrics(metrics.NewEventWorkerMetrics(reg)),
	}
	if dedupe := worker.NewRedisDeduper(redisClient, cfg.EventDedupeTTL); dedupe != nil {
		opts = append(opts, worker.WithDeduper(dedupe))
	}
	queue := worker.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.AppointmentEventsQueueURL)
	w := worker.New(queue, handlers, logger, opts...)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("events worker started",
		"queue", cfg.AppointmentEventsQueueURL,
		"workers", cfg.EventWorkerCount,
		"handlers", len(handlers),
	)
	w.Start(ctx)

	<-ctx.Done()
	logger.Info("events worker shutting down")
	w.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// connectRedis returns nil when Redis is absent; the worker then delivers
// without deduplication.
func connectRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
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
		logger.Warn("redis unavailable; event dedupe disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

func tenants(cfg *appconfig.Config, redisClient *redis.Client) (notify.TenantResolver, error) {
	if redisClient != nil {
		return tenancy.NewSettingsStore(redisClient, cfg.DefaultTimezone), nil
	}
	loc, err := tenancy.DefaultSettings("", cfg.DefaultTimezone).Location()
	if err != nil {
		return nil, err
	}
	return tenancy.StaticResolver{Location: loc}, nil
}
