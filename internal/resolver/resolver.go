// Package resolver maps free-text customer and attendant references to
// tenant records.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

var tracer = otel.Tracer("appointment.internal.resolver")

// Store is the slice of the record store the resolver needs.
type Store interface {
	scheduling.CustomerStore
	ListActiveAttendants(ctx context.Context, tenantID string) ([]scheduling.Attendant, error)
}

// Options tunes attendant matching.
type Options struct {
	// Honorifics replaces DefaultHonorifics when non-empty. A tenant's own
	// list takes precedence over both.
	Honorifics []string
	// Strict rejects ambiguous names instead of taking the first match.
	Strict bool
}

// Resolver resolves customers and attendants within one tenant.
type Resolver struct {
	store      Store
	honorifics tokenSet
	strict     bool
	metrics    *metrics.IntentMetrics
	logger     *logging.Logger
}

func New(store Store, opts Options, m *metrics.IntentMetrics, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("resolver: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	words := opts.Honorifics
	if len(words) == 0 {
		words = DefaultHonorifics
	}
	return &Resolver{
		store:      store,
		honorifics: newTokenSet(words),
		strict:     opts.Strict,
		metrics:    m,
		logger:     logger,
	}
}

// ResolveCustomer returns the tenant's active customer with email, creating
// one when none exists. Losing a concurrent create to the store's unique
// constraint re-reads the winner's row; a deactivated holder of the email
// yields scheduling.ErrCustomerInactive.
func (r *Resolver) ResolveCustomer(ctx context.Context, tenant tenancy.Tenant, name, email string) (*scheduling.Customer, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: customer email is required", scheduling.ErrInvalidIntent)
	}

	ctx, span := tracer.Start(ctx, "resolver.customer")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	existing, err := r.store.FindCustomerByEmail(ctx, tenant.ID, email)
	if err == nil {
		r.metrics.ObserveCustomerResolution("found")
		return existing, nil
	}
	if !errors.Is(err, scheduling.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find customer")
		return nil, fmt.Errorf("resolver: find customer: %w", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	customer := &scheduling.Customer{
		TenantID: tenant.ID,
		Name:     name,
		Email:    email,
		Active:   true,
	}
	err = r.store.CreateCustomer(ctx, customer)
	if err == nil {
		r.metrics.ObserveCustomerResolution("created")
		r.logger.Info("customer created", "tenant_id", tenant.ID, "customer_id", customer.ID)
		return customer, nil
	}
	if !errors.Is(err, scheduling.ErrDuplicate) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create customer")
		return nil, fmt.Errorf("resolver: create customer: %w", err)
	}

	// The unique constraint spans deactivated customers too.
	winner, err := r.store.FindCustomerByEmailAnyStatus(ctx, tenant.ID, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refetch customer")
		return nil, fmt.Errorf("resolver: refetch customer after duplicate: %w", err)
	}
	if !winner.Active {
		r.metrics.ObserveCustomerResolution("inactive")
		r.logger.Info("customer email belongs to a deactivated customer", "tenant_id", tenant.ID, "customer_id", winner.ID)
		return nil, fmt.Errorf("%w: %s", scheduling.ErrCustomerInactive, email)
	}
	r.metrics.ObserveCustomerResolution("refetched")
	r.logger.Info("customer create lost race, using existing row", "tenant_id", tenant.ID, "customer_id", winner.ID)
	return winner, nil
}

// ResolveAttendant finds the active attendant rawName refers to. Matching
// is a case- and accent-insensitive substring search over attendants in
// creation order after honorifics are stripped.
func (r *Resolver) ResolveAttendant(ctx context.Context, tenant tenancy.Tenant, rawName string) (*scheduling.Attendant, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "resolver.attendant")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	honorifics := r.honorifics
	if len(tenant.Honorifics) > 0 {
		honorifics = newTokenSet(tenant.Honorifics)
	}
	query := normalizeName(rawName, honorifics)
	if query == "" {
		return nil, fmt.Errorf("%w: %q", scheduling.ErrAttendantNotFound, rawName)
	}

	attendants, err := r.store.ListActiveAttendants(ctx, tenant.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list attendants")
		return nil, fmt.Errorf("resolver: list attendants: %w", err)
	}

	var matches []scheduling.Attendant
	for _, a := range attendants {
		if strings.Contains(fold(a.Name), query) {
			matches = append(matches, a)
		}
	}
	span.SetAttributes(attribute.Int("resolver.matches", len(matches)))

	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("%w: %q", scheduling.ErrAttendantNotFound, rawName)
	case len(matches) == 1 || !r.strict:
		if len(matches) > 1 {
			r.logger.Debug("attendant name matched several attendants, using first",
				"tenant_id", tenant.ID, "matches", len(matches), "attendant_id", matches[0].ID)
		}
		out := matches[0]
		return &out, nil
	}

	var exact []scheduling.Attendant
	for _, a := range matches {
		if normalizeName(a.Name, honorifics) == query {
			exact = append(exact, a)
		}
	}
	if len(exact) == 1 {
		return &exact[0], nil
	}
	return nil, fmt.Errorf("%w: %q matches %d attendants", scheduling.ErrAmbiguousAttendant, rawName, len(matches))
}
