package interpret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-intent-engine/internal/intent"
	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultMaxTokens = 512
	previewLen       = 80
)

// AttendantLister supplies attendant names for the prompt.
type AttendantLister interface {
	ListActiveAttendants(ctx context.Context, tenantID string) ([]scheduling.Attendant, error)
}

// Config tunes the interpreter.
type Config struct {
	// Provider labels metrics and logs ("bedrock", "gemini").
	Provider  string
	Model     string
	Timeout   time.Duration
	MaxTokens int32
}

// Interpreter sends free text to the model and validates the reply.
type Interpreter struct {
	client     Client
	attendants AttendantLister
	cfg        Config
	cache      *Cache
	metrics    *metrics.IntentMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// New creates an interpreter. attendants, cache and m may be nil.
func New(client Client, attendants AttendantLister, cfg Config, cache *Cache, m *metrics.IntentMetrics, logger *logging.Logger) *Interpreter {
	if client == nil {
		panic("interpret: client cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Provider == "" {
		cfg.Provider = "unknown"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Interpreter{
		client:     client,
		attendants: attendants,
		cfg:        cfg,
		cache:      cache,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the clock used for prompt dates and cache keys.
func (i *Interpreter) WithClock(now func() time.Time) *Interpreter {
	if now != nil {
		i.now = now
	}
	return i
}

// Interpret returns the validated model outcome for text. Model failures
// come back as scheduling.ErrInterpretationTimeout or
// scheduling.ErrInterpretationUnavailable; unusable replies as
// scheduling.ErrMalformedIntent.
func (i *Interpreter) Interpret(ctx context.Context, tenant tenancy.Tenant, text string) (intent.Outcome, error) {
	if err := tenant.Validate(); err != nil {
		return intent.Outcome{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return intent.Outcome{}, fmt.Errorf("%w: text is required", scheduling.ErrInvalidIntent)
	}

	logger := i.logger.With("tenant_id", tenant.ID, "provider", i.cfg.Provider)
	now := i.now().In(tenant.Loc())
	localDate := now.Format("2006-01-02")

	if cached, err := i.cache.Get(ctx, tenant.ID, localDate, text); err != nil {
		logger.Warn("interpretation cache read failed", "error", err)
	} else if cached != "" {
		if out, err := intent.Parse(cached); err == nil {
			logger.Debug("interpretation cache hit")
			return out, nil
		}
	}

	req := Request{
		Model:       i.cfg.Model,
		System:      BuildSystem(PromptContext{Now: now, Attendants: i.attendantNames(ctx, tenant, logger)}),
		Messages:    []Message{{Role: RoleUser, Content: text}},
		MaxTokens:   i.cfg.MaxTokens,
		Temperature: 0,
	}

	callCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := i.client.Complete(callCtx, req)
	elapsed := time.Since(started)
	if err != nil {
		classified := classifyCallError(ctx, callCtx, err)
		status := "error"
		if errors.Is(classified, scheduling.ErrInterpretationTimeout) {
			status = "timeout"
		}
		i.metrics.ObserveInterpretation(i.cfg.Provider, status, elapsed.Seconds())
		logger.Error("interpretation failed", "error", err, "status", status, "elapsed_ms", elapsed.Milliseconds())
		return intent.Outcome{}, classified
	}

	out, err := intent.Parse(resp.Text)
	if err != nil {
		i.metrics.ObserveInterpretation(i.cfg.Provider, "malformed", elapsed.Seconds())
		logger.Warn("interpretation output rejected",
			"error", err,
			"output_preview", logging.Preview(resp.Text, previewLen),
		)
		return intent.Outcome{}, err
	}
	i.metrics.ObserveInterpretation(i.cfg.Provider, "ok", elapsed.Seconds())
	logger.Info("interpretation complete",
		"elapsed_ms", elapsed.Milliseconds(),
		"clarification", out.IsClarification(),
		"output_tokens", resp.Usage.OutputTokens,
	)

	if err := i.cache.Set(ctx, tenant.ID, localDate, text, resp.Text); err != nil {
		logger.Warn("interpretation cache write failed", "error", err)
	}
	return out, nil
}

func (i *Interpreter) attendantNames(ctx context.Context, tenant tenancy.Tenant, logger *logging.Logger) []string {
	if i.attendants == nil {
		return nil
	}
	list, err := i.attendants.ListActiveAttendants(ctx, tenant.ID)
	if err != nil {
		logger.Warn("prompt attendant list unavailable", "error", err)
		return nil
	}
	names := make([]string, 0, len(list))
	for _, a := range list {
		names = append(names, a.Name)
	}
	return names
}

// classifyCallError separates the caller giving up from the model being
// slow or down.
func classifyCallError(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("interpret: %w", parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", scheduling.ErrInterpretationTimeout, err)
	}
	return fmt.Errorf("%w: %v", scheduling.ErrInterpretationUnavailable, err)
}
