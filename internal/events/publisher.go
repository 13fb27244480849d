package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, env Envelope) error
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher writes envelopes as JSON message bodies to one queue.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

// NewSQSPublisher creates a publisher around the provided SQS client.
func NewSQSPublisher(client *sqs.Client, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSPublisher(client, queueURL)
}

func newSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) Handle(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(env.EventType)},
			"tenant_id":  {DataType: aws.String("String"), StringValue: aws.String(env.TenantID)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// LogHandler records envelopes in the service log. Used when no queue is
// configured.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, env Envelope) error {
	h.logger.Info("appointment event", "event_id", env.EventID, "type", env.EventType, "tenant_id", env.TenantID, "aggregate", env.Aggregate)
	return nil
}

// Emitter fans an event out to every handler after a successful write.
// Handler failures are logged and counted, never returned.
type Emitter struct {
	handlers []DeliveryHandler
	timeout  time.Duration
	metrics  *metrics.IntentMetrics
	logger   *logging.Logger
}

func NewEmitter(m *metrics.IntentMetrics, logger *logging.Logger, handlers ...DeliveryHandler) *Emitter {
	if logger == nil {
		logger = logging.Default()
	}
	kept := make([]DeliveryHandler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &Emitter{handlers: kept, timeout: 5 * time.Second, metrics: m, logger: logger}
}

// WithTimeout bounds each handler call.
func (e *Emitter) WithTimeout(d time.Duration) *Emitter {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Emit publishes evt for tenantID. A nil Emitter is a no-op.
func (e *Emitter) Emit(ctx context.Context, tenantID string, evt AppointmentEvent) {
	if e == nil || len(e.handlers) == 0 || evt == nil {
		return
	}
	env, err := NewEnvelope(tenantID, evt.Details().aggregate(), evt)
	if err != nil {
		e.logger.Error("event envelope failed", "error", err, "tenant_id", tenantID, "type", evt.EventType())
		e.metrics.ObserveEventPublished(evt.EventType(), "invalid")
		return
	}
	// The caller may hang up once the appointment is written.
	base := context.WithoutCancel(ctx)
	for _, h := range e.handlers {
		hctx, cancel := context.WithTimeout(base, e.timeout)
		err := h.Handle(hctx, env)
		cancel()
		if err != nil {
			e.logger.Error("event delivery failed", "error", err, "event_id", env.EventID, "type", env.EventType, "tenant_id", tenantID)
			e.metrics.ObserveEventPublished(env.EventType, "failed")
			continue
		}
		e.metrics.ObserveEventPublished(env.EventType, "delivered")
	}
}
