// Package dispatch executes a validated intent against the record store.
package dispatch

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

	"github.com/wolfman30/appointment-intent-engine/internal/events"
	"github.com/wolfman30/appointment-intent-engine/internal/intent"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

var tracer = otel.Tracer("appointment.internal.dispatch")

// Store is the slice of the record store the dispatcher uses.
type Store interface {
	scheduling.AppointmentStore
	FindCustomerByEmail(ctx context.Context, tenantID, email string) (*scheduling.Customer, error)
	GetAttendant(ctx context.Context, tenantID, attendantID string) (*scheduling.Attendant, error)
}

// EntityResolver maps intent references to tenant records.
type EntityResolver interface {
	ResolveCustomer(ctx context.Context, tenant tenancy.Tenant, name, email string) (*scheduling.Customer, error)
	ResolveAttendant(ctx context.Context, tenant tenancy.Tenant, rawName string) (*scheduling.Attendant, error)
}

// EventEmitter receives lifecycle events after successful writes.
type EventEmitter interface {
	Emit(ctx context.Context, tenantID string, evt events.AppointmentEvent)
}

// Result is what a dispatched intent produced.
type Result struct {
	Action       intent.Action            `json:"action"`
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

// Dispatcher maps an intent's action to one store operation.
type Dispatcher struct {
	store    Store
	resolver EntityResolver
	emitter  EventEmitter
	now      func() time.Time
	logger   *logging.Logger
}

func New(store Store, resolver EntityResolver, emitter EventEmitter, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("dispatch: store cannot be nil")
	}
	if resolver == nil {
		panic("dispatch: resolver cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:    store,
		resolver: resolver,
		emitter:  emitter,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the timestamp put on events.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

// Dispatch validates in and runs it for tenant. Validation happens before
// any entity resolution so doomed requests never create customers.
func (d *Dispatcher) Dispatch(ctx context.Context, tenant tenancy.Tenant, in *intent.Intent) (*Result, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "dispatch."+string(in.Action))
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenant.ID),
		attribute.String("intent.action", string(in.Action)),
	)

	var (
		res *Result
		err error
	)
	switch in.Action {
	case intent.ActionSchedule:
		res, err = d.schedule(ctx, tenant, in)
	case intent.ActionCancel:
		res, err = d.cancel(ctx, tenant, in)
	case intent.ActionReschedule:
		res, err = d.reschedule(ctx, tenant, in)
	case intent.ActionList:
		res, err = d.list(ctx, tenant, in)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return res, nil
}

func recordSpanError(span trace.Span, err error) {
	if scheduling.IsUserFacing(err) {
		span.SetAttributes(attribute.String("dispatch.rejection", err.Error()))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "dispatch failed")
}

func (d *Dispatcher) slotOf(tenant tenancy.Tenant, date scheduling.Date, clock *intent.Clock) (time.Time, time.Time) {
	loc := tenant.Loc()
	start := date.At(clock.Hour, clock.Minute, loc)
	return start, scheduling.SlotStartOf(start, loc)
}

// checkSlot fails with ErrSlotConflict when another active appointment holds
// the slot. The store's unique index remains the final arbiter.
func (d *Dispatcher) checkSlot(ctx context.Context, tenantID, attendantID string, slot time.Time, selfID string) error {
	existing, err := d.store.FindActiveAppointmentAt(ctx, tenantID, attendantID, slot)
	switch {
	case errors.Is(err, scheduling.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("dispatch: check slot: %w", err)
	case existing.ID == selfID:
		return nil
	}
	return fmt.Errorf("%w: attendant already booked at %s", scheduling.ErrSlotConflict, slot.Format(time.RFC3339))
}

func (d *Dispatcher) schedule(ctx context.Context, tenant tenancy.Tenant, in *intent.Intent) (*Result, error) {
	// Attendant first: an unknown attendant must not leave a new customer behind.
	attendant, err := d.resolver.ResolveAttendant(ctx, tenant, in.AttendantName)
	if err != nil {
		return nil, err
	}
	customer, err := d.resolver.ResolveCustomer(ctx, tenant, in.CustomerName, in.CustomerEmail)
	if err != nil {
		return nil, err
	}

	start, slot := d.slotOf(tenant, in.Date, in.Time)
	if err := d.checkSlot(ctx, tenant.ID, attendant.ID, slot, ""); err != nil {
		d.logConflict(tenant, attendant.ID, slot, err)
		return nil, err
	}

	appt := &scheduling.Appointment{
		TenantID:    tenant.ID,
		CustomerID:  customer.ID,
		AttendantID: attendant.ID,
		StartsAt:    start,
		SlotStart:   slot,
		Status:      scheduling.StatusScheduled,
		Notes:       in.Notes,
	}
	if err := d.store.CreateAppointment(ctx, appt); err != nil {
		if errors.Is(err, scheduling.ErrDuplicate) {
			err = fmt.Errorf("%w: slot taken concurrently", scheduling.ErrSlotConflict)
			d.logConflict(tenant, attendant.ID, slot, err)
			return nil, err
		}
		return nil, fmt.Errorf("dispatch: create appointment: %w", err)
	}
	d.logger.Info("appointment scheduled", "tenant_id", tenant.ID, "appointment_id", appt.ID, "attendant_id", attendant.ID)

	d.emit(ctx, tenant, events.AppointmentScheduledV1{
		AppointmentDetails: events.DetailsOf(*appt, customer, attendant),
		ScheduledAt:        d.now().UTC(),
	})
	return &Result{Action: in.Action, Appointment: appt, Customer: customer, Attendant: attendant}, nil
}

func (d *Dispatcher) logConflict(tenant tenancy.Tenant, attendantID string, slot time.Time, err error) {
	if errors.Is(err, scheduling.ErrSlotConflict) {
		d.logger.Info("slot conflict", "tenant_id", tenant.ID, "attendant_id", attendantID, "slot", slot.Format(time.RFC3339))
	}
}

// findForChange locates the most recently created active appointment for
// email on date in the tenant's location.
func (d *Dispatcher) findForChange(ctx context.Context, tenant tenancy.Tenant, email string, date scheduling.Date) (*scheduling.Appointment, error) {
	loc := tenant.Loc()
	appt, err := d.store.FindLatestActiveAppointment(ctx, tenant.ID, email, date.In(loc), date.AddDays(1).In(loc))
	if errors.Is(err, scheduling.ErrNotFound) {
		return nil, fmt.Errorf("%w: no active appointment for %s on %s", scheduling.ErrAppointmentNotFound, email, date)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: find appointment: %w", err)
	}
	return appt, nil
}

func (d *Dispatcher) update(ctx context.Context, appt *scheduling.Appointment) error {
	err := d.store.UpdateAppointment(ctx, appt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduling.ErrDuplicate):
		return fmt.Errorf("%w: slot taken concurrently", scheduling.ErrSlotConflict)
	case errors.Is(err, scheduling.ErrNotFound):
		return fmt.Errorf("%w: appointment %s changed concurrently", scheduling.ErrAppointmentNotFound, appt.ID)
	default:
		return fmt.Errorf("dispatch: update appointment: %w", err)
	}
}

func (d *Dispatcher) cancel(ctx context.Context, tenant tenancy.Tenant, in *intent.Intent) (*Result, error) {
	appt, err := d.findForChange(ctx, tenant, in.CustomerEmail, in.Date)
	if err != nil {
		return nil, err
	}
	appt.Status = scheduling.StatusCanceled
	if err := d.update(ctx, appt); err != nil {
		return nil, err
	}
	d.logger.Info("appointment canceled", "tenant_id", tenant.ID, "appointment_id", appt.ID)

	customer, attendant := d.parties(ctx, tenant, in.CustomerEmail, appt)
	d.emit(ctx, tenant, events.AppointmentCanceledV1{
		AppointmentDetails: events.DetailsOf(*appt, customer, attendant),
		CanceledAt:         d.now().UTC(),
	})
	return &Result{Action: in.Action, Appointment: appt, Customer: customer, Attendant: attendant}, nil
}

func (d *Dispatcher) reschedule(ctx context.Context, tenant tenancy.Tenant, in *intent.Intent) (*Result, error) {
	appt, err := d.findForChange(ctx, tenant, in.CustomerEmail, in.LookupDate())
	if err != nil {
		return nil, err
	}

	var attendant *scheduling.Attendant
	if in.AttendantName != "" {
		attendant, err = d.resolver.ResolveAttendant(ctx, tenant, in.AttendantName)
		if err != nil {
			return nil, err
		}
	}
	attendantID := appt.AttendantID
	if attendant != nil {
		attendantID = attendant.ID
	}

	start, slot := d.slotOf(tenant, in.Date, in.Time)
	if err := d.checkSlot(ctx, tenant.ID, attendantID, slot, appt.ID); err != nil {
		d.logConflict(tenant, attendantID, slot, err)
		return nil, err
	}

	previousStart, previousAttendant := appt.StartsAt, appt.AttendantID
	appt.AttendantID = attendantID
	appt.StartsAt = start
	appt.SlotStart = slot
	if in.Notes != "" {
		appt.Notes = in.Notes
	}
	if err := d.update(ctx, appt); err != nil {
		d.logConflict(tenant, attendantID, slot, err)
		return nil, err
	}
	d.logger.Info("appointment rescheduled", "tenant_id", tenant.ID, "appointment_id", appt.ID, "attendant_id", attendantID)

	customer, storedAttendant := d.parties(ctx, tenant, in.CustomerEmail, appt)
	if attendant == nil {
		attendant = storedAttendant
	}
	d.emit(ctx, tenant, events.AppointmentRescheduledV1{
		AppointmentDetails: events.DetailsOf(*appt, customer, attendant),
		PreviousStartsAt:   previousStart,
		PreviousAttendant:  previousAttendant,
		RescheduledAt:      d.now().UTC(),
	})
	return &Result{Action: in.Action, Appointment: appt, Customer: customer, Attendant: attendant}, nil
}

func (d *Dispatcher) list(ctx context.Context, tenant tenancy.Tenant, in *intent.Intent) (*Result, error) {
	filter := scheduling.AppointmentFilter{CustomerEmail: in.CustomerEmail}
	if !in.Date.IsZero() {
		loc := tenant.Loc()
		filter.From = in.Date.In(loc)
		filter.To = in.Date.AddDays(1).In(loc)
	}
	appts, err := d.store.ListAppointments(ctx, tenant.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list appointments: %w", err)
	}
	if appts == nil {
		appts = []scheduling.Appointment{}
	}
	return &Result{Action: in.Action, Appointments: appts}, nil
}

// parties loads the customer and attendant for the result and event
// payloads. Lookup failures only thin the payload.
func (d *Dispatcher) parties(ctx context.Context, tenant tenancy.Tenant, email string, appt *scheduling.Appointment) (*scheduling.Customer, *scheduling.Attendant) {
	customer, err := d.store.FindCustomerByEmail(ctx, tenant.ID, email)
	if err != nil || customer.ID != appt.CustomerID {
		d.logger.Debug("customer lookup for event failed", "error", err, "tenant_id", tenant.ID)
		customer = nil
	}
	attendant, err := d.store.GetAttendant(ctx, tenant.ID, appt.AttendantID)
	if err != nil {
		d.logger.Debug("attendant lookup for event failed", "error", err, "tenant_id", tenant.ID)
		attendant = nil
	}
	return customer, attendant
}

func (d *Dispatcher) emit(ctx context.Context, tenant tenancy.Tenant, evt events.AppointmentEvent) {
	if d.emitter == nil {
		return
	}
	d.emitter.Emit(ctx, tenant.ID, evt)
}
