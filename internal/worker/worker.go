// Package worker consumes appointment event envelopes from the queue and
// fans them out to delivery handlers such as customer email and the archive.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/appointment-intent-engine/internal/events"
	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

const (
	defaultWorkerCount    = 2
	defaultWaitSeconds    = 20
	defaultBatchSize      = 10
	defaultHandlerTimeout = 15 * time.Second
)

// Worker consumes appointment events from the queue and invokes the handlers.
type Worker struct {
	queue    queueClient
	handlers []events.DeliveryHandler
	dedupe   Deduper
	metrics  *metrics.EventWorkerMetrics
	logger   *logging.Logger

	cfg   workerConfig
	sleep func(time.Duration)
	wg    sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	handlerTimeout   time.Duration
}

// Option customizes worker behavior.
type Option func(*Worker)

// WithWorkers sets the number of receive loops.
func WithWorkers(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.cfg.workers = n
		}
	}
}

// WithReceiveWait sets the long-poll wait in seconds.
func WithReceiveWait(seconds int) Option {
	return func(w *Worker) {
		if seconds >= 0 {
			w.cfg.receiveWaitSecs = seconds
		}
	}
}

// WithHandlerTimeout bounds the time spent delivering one event.
func WithHandlerTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.cfg.handlerTimeout = d
		}
	}
}

// WithDeduper skips events that were already delivered.
func WithDeduper(d Deduper) Option {
	return func(w *Worker) {
		if d != nil {
			w.dedupe = d
		}
	}
}

// WithMetrics records consumption outcomes.
func WithMetrics(m *metrics.EventWorkerMetrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// New creates a worker around an SQS queue.
func New(queue *SQSQueue, handlers []events.DeliveryHandler, logger *logging.Logger, opts ...Option) *Worker {
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	return newWorker(queue, handlers, logger, opts...)
}

func newWorker(queue queueClient, handlers []events.DeliveryHandler, logger *logging.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		queue:  queue,
		logger: logger,
		cfg: workerConfig{
			workers:          defaultWorkerCount,
			receiveWaitSecs:  defaultWaitSeconds,
			receiveBatchSize: defaultBatchSize,
			handlerTimeout:   defaultHandlerTimeout,
		},
		sleep: time.Sleep,
	}
	for _, h := range handlers {
		if h != nil {
			w.handlers = append(w.handlers, h)
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("events worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("events worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive appointment events", "error", err, "worker_id", workerID)
			w.sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage deletes the message once every handler succeeded. Failed
// deliveries stay on the queue and are retried after the visibility timeout.
func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	start := time.Now()
	var env events.Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil || env.EventType == "" || env.TenantID == "" {
		w.logger.Error("dropping malformed appointment event", "error", err, "msg_id", msg.ID)
		w.metrics.ObserveConsumed("", "invalid", 0)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	eventID := env.EventID.String()
	logger := w.logger.With("event_id", eventID, "event_type", env.EventType, "tenant_id", env.TenantID)

	if w.dedupe != nil {
		claimed, err := w.dedupe.Claim(ctx, eventID)
		if err != nil {
			logger.Warn("event dedupe unavailable; delivering anyway", "error", err)
		} else if !claimed {
			logger.Info("skipping duplicate appointment event")
			w.metrics.ObserveConsumed(env.EventType, "duplicate", 0)
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
	}

	handleCtx, cancel := context.WithTimeout(ctx, w.cfg.handlerTimeout)
	defer cancel()

	failed := 0
	for _, h := range w.handlers {
		if err := h.Handle(handleCtx, env); err != nil {
			failed++
			logger.Error("appointment event delivery failed", "error", err)
		}
	}

	if failed > 0 {
		if w.dedupe != nil {
			if err := w.dedupe.Release(context.Background(), eventID); err != nil {
				logger.Warn("failed to release event claim", "error", err)
			}
		}
		w.metrics.ObserveConsumed(env.EventType, "failed", time.Since(start).Seconds())
		return
	}

	w.metrics.ObserveConsumed(env.EventType, "delivered", time.Since(start).Seconds())
	logger.Debug("appointment event delivered", "handlers", len(w.handlers))
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete appointment event", "error", err)
	}
}
