// Package engine is the caller-facing surface of the intent pipeline:
// interpret free text, dispatch the resulting intent, and suggest slots.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/appointment-intent-engine/internal/availability"
	"github.com/wolfman30/appointment-intent-engine/internal/dispatch"
	"github.com/wolfman30/appointment-intent-engine/internal/intent"
	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

var tracer = otel.Tracer("appointment.internal.engine")

// Interpreter turns free text into an intent or a clarification.
type Interpreter interface {
	Interpret(ctx context.Context, tenant tenancy.Tenant, text string) (intent.Outcome, error)
}

// Dispatcher executes a validated intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenant tenancy.Tenant, in *intent.Intent) (*dispatch.Result, error)
}

// SlotSuggester computes free slots for an ordered set of attendants.
type SlotSuggester interface {
	SuggestSlots(ctx context.Context, tenant tenancy.Tenant, attendantIDs []string, r availability.Range, limit int) ([]scheduling.Slot, error)
}

// AttendantDirectory answers candidate-attendant questions for suggestions.
type AttendantDirectory interface {
	ListActiveAttendants(ctx context.Context, tenantID string) ([]scheduling.Attendant, error)
	ListActiveAttendantsBySpecialty(ctx context.Context, tenantID, specialtyID string) ([]scheduling.Attendant, error)
	GetAttendant(ctx context.Context, tenantID, attendantID string) (*scheduling.Attendant, error)
}

// AttendantResolver resolves a free-text attendant reference.
type AttendantResolver interface {
	ResolveAttendant(ctx context.Context, tenant tenancy.Tenant, rawName string) (*scheduling.Attendant, error)
}

// Deps are the collaborators the engine composes.
type Deps struct {
	Interpreter Interpreter
	Dispatcher  Dispatcher
	Slots       SlotSuggester
	Attendants  AttendantDirectory
	Resolver    AttendantResolver
}

// Config bounds suggestion requests.
type Config struct {
	DefaultLimit int
	DefaultDays  int
	MaxDays      int
}

// Engine implements ProcessIntent, SuggestSlots and ValidateIntentText.
type Engine struct {
	deps    Deps
	cfg     Config
	now     func() time.Time
	metrics *metrics.IntentMetrics
	logger  *logging.Logger
}

func New(deps Deps, cfg Config, m *metrics.IntentMetrics, logger *logging.Logger) *Engine {
	if deps.Interpreter == nil {
		panic("engine: interpreter cannot be nil")
	}
	if deps.Dispatcher == nil {
		panic("engine: dispatcher cannot be nil")
	}
	if deps.Slots == nil || deps.Attendants == nil || deps.Resolver == nil {
		panic("engine: slot suggester, attendant directory and resolver are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 7
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = 31
	}
	if cfg.DefaultDays > cfg.MaxDays {
		cfg.DefaultDays = cfg.MaxDays
	}
	return &Engine{deps: deps, cfg: cfg, now: time.Now, metrics: m, logger: logger}
}

// WithClock overrides the clock used for default suggestion dates.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Result status values.
const (
	StatusCompleted     = "completed"
	StatusClarification = "clarification"
)

// Result is the outcome of ProcessIntent. A clarification is a normal
// result, not an error.
type Result struct {
	Status       string                   `json:"status"`
	Action       intent.Action            `json:"action,omitempty"`
	Message      string                   `json:"message,omitempty"`
	Intent       *intent.Intent           `json:"intent,omitempty"`
	Appointment  *scheduling.Appointment  `json:"appointment,omitempty"`
	Appointments []scheduling.Appointment `json:"appointments,omitempty"`
	Customer     *scheduling.Customer     `json:"customer,omitempty"`
	Attendant    *scheduling.Attendant    `json:"attendant,omitempty"`
}

// MarshalJSON keeps "appointments" on list results even when nothing matched.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	if r.Action != intent.ActionList {
		return json.Marshal(plain(r))
	}
	appts := r.Appointments
	if appts == nil {
		appts = []scheduling.Appointment{}
	}
	return json.Marshal(struct {
		plain
		Appointments []scheduling.Appointment `json:"appointments"`
	}{plain(r), appts})
}

// ProcessIntent interprets text and executes the resulting command.
func (e *Engine) ProcessIntent(ctx context.Context, tenant tenancy.Tenant, text string) (*Result, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "engine.process_intent")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))
	logger := e.logger.With("tenant_id", tenant.ID)

	outcome, err := e.deps.Interpreter.Interpret(ctx, tenant, text)
	if err != nil {
		e.fail(span, "", err)
		logger.Warn("interpretation failed", "error", err, "retryable", scheduling.IsRetryable(err))
		return nil, err
	}
	if outcome.IsClarification() {
		e.metrics.ObserveIntent("", StatusClarification)
		span.SetAttributes(attribute.String("intent.outcome", StatusClarification))
		logger.Info("clarification requested")
		return &Result{Status: StatusClarification, Message: outcome.Clarification.Message}, nil
	}

	in := outcome.Intent
	span.SetAttributes(attribute.String("intent.action", string(in.Action)))
	res, err := e.deps.Dispatcher.Dispatch(ctx, tenant, in)
	if err != nil {
		e.fail(span, string(in.Action), err)
		if scheduling.IsUserFacing(err) {
			logger.Info("intent rejected", "action", in.Action, "reason", err.Error())
		} else {
			logger.Error("intent dispatch failed", "action", in.Action, "error", err)
		}
		return nil, err
	}
	e.metrics.ObserveIntent(string(in.Action), "ok")

	return &Result{
		Status:       StatusCompleted,
		Action:       res.Action,
		Intent:       in,
		Appointment:  res.Appointment,
		Appointments: res.Appointments,
		Customer:     res.Customer,
		Attendant:    res.Attendant,
	}, nil
}

// ValidateIntentText interprets text and checks the intent's requirements
// without touching any record.
func (e *Engine) ValidateIntentText(ctx context.Context, tenant tenancy.Tenant, text string) (intent.Outcome, error) {
	if err := tenant.Validate(); err != nil {
		return intent.Outcome{}, err
	}
	ctx, span := tracer.Start(ctx, "engine.validate_intent_text")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	outcome, err := e.deps.Interpreter.Interpret(ctx, tenant, text)
	if err != nil {
		recordError(span, err)
		return intent.Outcome{}, err
	}
	if outcome.IsClarification() {
		return outcome, nil
	}
	if err := outcome.Intent.Validate(); err != nil {
		recordError(span, err)
		return intent.Outcome{}, err
	}
	return outcome, nil
}

// Preferences narrow a suggestion request. Zero values select defaults.
type Preferences struct {
	AttendantIDs  []string        `json:"attendantIds,omitempty"`
	AttendantName string          `json:"attendantName,omitempty"`
	SpecialtyID   string          `json:"specialtyId,omitempty"`
	StartDate     scheduling.Date `json:"startDate"`
	Days          int             `json:"days,omitempty"`
	// Limit caps the result; nil means the configured default.
	Limit *int `json:"limit,omitempty"`
}

// SuggestSlots returns free slots for the preferred attendants, earliest
// date first.
func (e *Engine) SuggestSlots(ctx context.Context, tenant tenancy.Tenant, prefs Preferences) ([]scheduling.Slot, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "engine.suggest_slots")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	limit := e.cfg.DefaultLimit
	if prefs.Limit != nil {
		limit = *prefs.Limit
	}
	if limit <= 0 {
		return []scheduling.Slot{}, nil
	}

	ids, err := e.candidates(ctx, tenant, prefs)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	start := prefs.StartDate
	if start.IsZero() {
		start = tenant.Today(e.now())
	}
	days := prefs.Days
	if days <= 0 {
		days = e.cfg.DefaultDays
	}
	if days > e.cfg.MaxDays {
		days = e.cfg.MaxDays
	}
	span.SetAttributes(attribute.Int("suggest.attendants", len(ids)), attribute.Int("suggest.days", days))

	slots, err := e.deps.Slots.SuggestSlots(ctx, tenant, ids, availability.Range{From: start, Days: days}, limit)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("engine: suggest slots: %w", err)
	}
	if slots == nil {
		slots = []scheduling.Slot{}
	}
	e.metrics.AddSlotsSuggested(len(slots))
	return slots, nil
}

// candidates picks attendants in priority order: explicit ids, then a
// resolved name, then a specialty, then every active attendant.
func (e *Engine) candidates(ctx context.Context, tenant tenancy.Tenant, prefs Preferences) ([]string, error) {
	if len(prefs.AttendantIDs) > 0 {
		ids := make([]string, 0, len(prefs.AttendantIDs))
		seen := make(map[string]bool, len(prefs.AttendantIDs))
		for _, id := range prefs.AttendantIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			a, err := e.deps.Attendants.GetAttendant(ctx, tenant.ID, id)
			if errors.Is(err, scheduling.ErrNotFound) || (err == nil && !a.Active) {
				return nil, fmt.Errorf("%w: %q", scheduling.ErrAttendantNotFound, id)
			}
			if err != nil {
				return nil, fmt.Errorf("engine: get attendant: %w", err)
			}
			ids = append(ids, a.ID)
		}
		return ids, nil
	}

	if prefs.AttendantName != "" {
		a, err := e.deps.Resolver.ResolveAttendant(ctx, tenant, prefs.AttendantName)
		if err != nil {
			return nil, err
		}
		return []string{a.ID}, nil
	}

	var (
		attendants []scheduling.Attendant
		err        error
	)
	if prefs.SpecialtyID != "" {
		attendants, err = e.deps.Attendants.ListActiveAttendantsBySpecialty(ctx, tenant.ID, prefs.SpecialtyID)
	} else {
		attendants, err = e.deps.Attendants.ListActiveAttendants(ctx, tenant.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: list attendants: %w", err)
	}
	ids := make([]string, 0, len(attendants))
	for _, a := range attendants {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (e *Engine) fail(span trace.Span, action string, err error) {
	e.metrics.ObserveIntent(action, Outcome(err))
	recordError(span, err)
}

func recordError(span trace.Span, err error) {
	span.SetAttributes(attribute.String("intent.outcome", Outcome(err)))
	if scheduling.IsUserFacing(err) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, Outcome(err))
}

// Outcome is the metric and log label for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, scheduling.ErrMalformedIntent):
		return "malformed"
	case errors.Is(err, scheduling.ErrInvalidIntent):
		return "invalid"
	case errors.Is(err, scheduling.ErrAttendantNotFound), errors.Is(err, scheduling.ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, scheduling.ErrAmbiguousAttendant):
		return "ambiguous"
	case errors.Is(err, scheduling.ErrCustomerInactive):
		return "inactive_customer"
	case errors.Is(err, scheduling.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, scheduling.ErrInterpretationTimeout):
		return "timeout"
	case errors.Is(err, scheduling.ErrInterpretationUnavailable), errors.Is(err, scheduling.ErrStoreUnavailable):
		return "unavailable"
	case scheduling.IsCanceled(err):
		return "canceled"
	default:
		return "error"
	}
}
