package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
)

// Memory is an in-process record store used for local runs and tests. It
// enforces the same uniqueness rules as the Postgres schema.
type Memory struct {
	mu           sync.RWMutex
	customers    []scheduling.Customer
	specialties  []scheduling.Specialty
	attendants   []scheduling.Attendant
	intervals    []scheduling.WorkingInterval
	appointments []scheduling.Appointment
	seq          int64
	now          func() time.Time
}

var _ scheduling.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the timestamp source for created/updated fields.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) stamp() time.Time {
	// Creation order must survive equal clock readings.
	m.seq++
	return m.now().Add(time.Duration(m.seq) * time.Nanosecond)
}

// AddSpecialty seeds a specialty.
func (m *Memory) AddSpecialty(s scheduling.Specialty) scheduling.Specialty {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.specialties = append(m.specialties, s)
	return s
}

// AddAttendant seeds an attendant; insertion order is creation order.
func (m *Memory) AddAttendant(a scheduling.Attendant) scheduling.Attendant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.stamp()
	}
	m.attendants = append(m.attendants, a)
	return a
}

// AddWorkingInterval seeds a weekly working interval.
func (m *Memory) AddWorkingInterval(w scheduling.WorkingInterval) (scheduling.WorkingInterval, error) {
	if !w.Valid() {
		return w, fmt.Errorf("store: invalid working interval %d-%d", w.StartMinute, w.EndMinute)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	m.intervals = append(m.intervals, w)
	return w, nil
}

// FindCustomerByEmail returns the active customer with the given email.
func (m *Memory) FindCustomerByEmail(ctx context.Context, tenantID, email string) (*scheduling.Customer, error) {
	return m.findCustomer(ctx, tenantID, email, true)
}

// FindCustomerByEmailAnyStatus returns the customer with the given email,
// active or not.
func (m *Memory) FindCustomerByEmailAnyStatus(ctx context.Context, tenantID, email string) (*scheduling.Customer, error) {
	return m.findCustomer(ctx, tenantID, email, false)
}

func (m *Memory) findCustomer(ctx context.Context, tenantID, email string, activeOnly bool) (*scheduling.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: find customer: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.customers {
		if activeOnly && !c.Active {
			continue
		}
		if c.TenantID == tenantID && strings.EqualFold(c.Email, strings.TrimSpace(email)) {
			out := c
			return &out, nil
		}
	}
	return nil, fmt.Errorf("store: find customer: %w", scheduling.ErrNotFound)
}

// CreateCustomer inserts a customer unless the tenant already has the email.
func (m *Memory) CreateCustomer(ctx context.Context, c *scheduling.Customer) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: create customer: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.customers {
		if existing.TenantID == c.TenantID && strings.EqualFold(existing.Email, c.Email) {
			return fmt.Errorf("store: create customer: %w", scheduling.ErrDuplicate)
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.stamp()
	}
	m.customers = append(m.customers, *c)
	return nil
}

// ListActiveAttendants returns active attendants in creation order.
func (m *Memory) ListActiveAttendants(ctx context.Context, tenantID string) ([]scheduling.Attendant, error) {
	return m.filterAttendants(ctx, func(a scheduling.Attendant) bool {
		return a.TenantID == tenantID && a.Active
	})
}

// ListActiveAttendantsBySpecialty returns active attendants of a specialty.
func (m *Memory) ListActiveAttendantsBySpecialty(ctx context.Context, tenantID, specialtyID string) ([]scheduling.Attendant, error) {
	return m.filterAttendants(ctx, func(a scheduling.Attendant) bool {
		return a.TenantID == tenantID && a.Active && a.SpecialtyID == specialtyID
	})
}

func (m *Memory) filterAttendants(ctx context.Context, keep func(scheduling.Attendant) bool) ([]scheduling.Attendant, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: list attendants: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []scheduling.Attendant
	for _, a := range m.attendants {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetAttendant loads one attendant scoped to the tenant.
func (m *Memory) GetAttendant(ctx context.Context, tenantID, attendantID string) (*scheduling.Attendant, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: get attendant: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attendants {
		if a.TenantID == tenantID && a.ID == attendantID {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("store: get attendant: %w", scheduling.ErrNotFound)
}

// ListWorkingIntervals returns the attendant's intervals for a weekday.
func (m *Memory) ListWorkingIntervals(ctx context.Context, tenantID, attendantID string, weekday time.Weekday) ([]scheduling.WorkingInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: list working intervals: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []scheduling.WorkingInterval
	for _, w := range m.intervals {
		if w.TenantID == tenantID && w.AttendantID == attendantID && w.Weekday == weekday {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (m *Memory) customerEmail(tenantID, customerID string) string {
	for _, c := range m.customers {
		if c.TenantID == tenantID && c.ID == customerID {
			return c.Email
		}
	}
	return ""
}

// ListAppointments returns appointments matching the filter ordered by start.
func (m *Memory) ListAppointments(ctx context.Context, tenantID string, filter scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: list appointments: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	email := strings.TrimSpace(filter.CustomerEmail)
	var out []scheduling.Appointment
	for _, a := range m.appointments {
		if a.TenantID != tenantID {
			continue
		}
		if email != "" && !strings.EqualFold(m.customerEmail(tenantID, a.CustomerID), email) {
			continue
		}
		if filter.AttendantID != "" && a.AttendantID != filter.AttendantID {
			continue
		}
		if !filter.From.IsZero() && a.StartsAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !a.StartsAt.Before(filter.To) {
			continue
		}
		if filter.ActiveOnly && !a.Status.Active() {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FindActiveAppointmentAt returns the active appointment holding a slot.
func (m *Memory) FindActiveAppointmentAt(ctx context.Context, tenantID, attendantID string, slotStart time.Time) (*scheduling.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: find appointment at slot: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.activeAt(tenantID, attendantID, slotStart, ""); i >= 0 {
		out := m.appointments[i]
		return &out, nil
	}
	return nil, fmt.Errorf("store: find appointment at slot: %w", scheduling.ErrNotFound)
}

func (m *Memory) activeAt(tenantID, attendantID string, slotStart time.Time, excludeID string) int {
	for i, a := range m.appointments {
		if a.TenantID == tenantID && a.AttendantID == attendantID && a.Status.Active() &&
			a.SlotStart.Equal(slotStart) && a.ID != excludeID {
			return i
		}
	}
	return -1
}

// FindLatestActiveAppointment returns the most recently created active
// appointment for the email starting in [from, to).
func (m *Memory) FindLatestActiveAppointment(ctx context.Context, tenantID, email string, from, to time.Time) (*scheduling.Appointment, error) {
	matches, err := m.ListAppointments(ctx, tenantID, scheduling.AppointmentFilter{
		CustomerEmail: email,
		From:          from,
		To:            to,
		ActiveOnly:    true,
	})
	if err != nil {
		return nil, err
	}
	if email == "" || len(matches) == 0 {
		return nil, fmt.Errorf("store: find latest appointment: %w", scheduling.ErrNotFound)
	}
	latest := matches[0]
	for _, a := range matches[1:] {
		if a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	return &latest, nil
}

// CreateAppointment inserts an appointment unless its slot is taken.
func (m *Memory) CreateAppointment(ctx context.Context, appt *scheduling.Appointment) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: create appointment: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if appt.Status.Active() && m.activeAt(appt.TenantID, appt.AttendantID, appt.SlotStart, "") >= 0 {
		return fmt.Errorf("store: create appointment: %w", scheduling.ErrDuplicate)
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := m.stamp()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	m.appointments = append(m.appointments, *appt)
	return nil
}

// UpdateAppointment writes the mutable fields of an appointment.
func (m *Memory) UpdateAppointment(ctx context.Context, appt *scheduling.Appointment) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: update appointment: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.appointments {
		current := &m.appointments[i]
		if current.TenantID != appt.TenantID || current.ID != appt.ID {
			continue
		}
		if appt.Status.Active() && m.activeAt(appt.TenantID, appt.AttendantID, appt.SlotStart, appt.ID) >= 0 {
			return fmt.Errorf("store: update appointment: %w", scheduling.ErrDuplicate)
		}
		appt.UpdatedAt = m.now()
		current.AttendantID = appt.AttendantID
		current.StartsAt = appt.StartsAt
		current.SlotStart = appt.SlotStart
		current.Status = appt.Status
		current.Notes = appt.Notes
		current.UpdatedAt = appt.UpdatedAt
		return nil
	}
	return fmt.Errorf("store: update appointment: %w", scheduling.ErrNotFound)
}
