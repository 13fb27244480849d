package scheduling

import (
	"context"
	"time"
)

// CustomerStore reads and creates tenant customers.
type CustomerStore interface {
	// FindCustomerByEmail matches active customers case-insensitively.
	// Returns ErrNotFound when none matches.
	FindCustomerByEmail(ctx context.Context, tenantID, email string) (*Customer, error)
	// FindCustomerByEmailAnyStatus also matches deactivated customers, mirroring
	// the scope of the unique email constraint.
	FindCustomerByEmailAnyStatus(ctx context.Context, tenantID, email string) (*Customer, error)
	// CreateCustomer assigns ID/CreatedAt when empty. Returns ErrDuplicate when
	// the tenant already has a customer with that email.
	CreateCustomer(ctx context.Context, customer *Customer) error
}

// AttendantStore lists tenant attendants. Every list is in creation order.
type AttendantStore interface {
	ListActiveAttendants(ctx context.Context, tenantID string) ([]Attendant, error)
	ListActiveAttendantsBySpecialty(ctx context.Context, tenantID, specialtyID string) ([]Attendant, error)
	// GetAttendant returns ErrNotFound for unknown ids or ids owned by another tenant.
	GetAttendant(ctx context.Context, tenantID, attendantID string) (*Attendant, error)
}

// ScheduleStore reads recurring working intervals.
type ScheduleStore interface {
	// ListWorkingIntervals returns the attendant's intervals for a weekday
	// ordered by start minute.
	ListWorkingIntervals(ctx context.Context, tenantID, attendantID string, weekday time.Weekday) ([]WorkingInterval, error)
}

// AppointmentFilter narrows ListAppointments. Empty fields do not filter.
type AppointmentFilter struct {
	CustomerEmail string
	AttendantID   string
	// From and To bound StartsAt as [From, To).
	From time.Time
	To   time.Time
	// ActiveOnly excludes canceled appointments.
	ActiveOnly bool
}

// AppointmentStore persists appointments. Implementations must reject a
// second active appointment for the same (tenant, attendant, slot start)
// with ErrDuplicate.
type AppointmentStore interface {
	ListAppointments(ctx context.Context, tenantID string, filter AppointmentFilter) ([]Appointment, error)
	// FindActiveAppointmentAt returns ErrNotFound when the slot is free.
	FindActiveAppointmentAt(ctx context.Context, tenantID, attendantID string, slotStart time.Time) (*Appointment, error)
	// FindLatestActiveAppointment returns the most recently created active
	// appointment for the customer email starting in [from, to), or ErrNotFound.
	FindLatestActiveAppointment(ctx context.Context, tenantID, email string, from, to time.Time) (*Appointment, error)
	CreateAppointment(ctx context.Context, appt *Appointment) error
	// UpdateAppointment writes status, attendant, start, slot and notes.
	// Returns ErrNotFound if the row does not belong to the tenant.
	UpdateAppointment(ctx context.Context, appt *Appointment) error
}

// Store is the full record store consumed by the engine.
type Store interface {
	CustomerStore
	AttendantStore
	ScheduleStore
	AppointmentStore
}
