package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx-backed record store.
type Postgres struct {
	db  querier
	now func() time.Time
}

var _ scheduling.Store = (*Postgres)(nil)

// NewPostgres creates a store backed by a pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return newPostgresWithQuerier(pool)
}

func newPostgresWithQuerier(db querier) *Postgres {
	if db == nil {
		panic("store: querier required")
	}
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const customerColumns = `id, tenant_id, name, email, phone, active, created_at`

// FindCustomerByEmail returns the active customer with the given email.
func (p *Postgres) FindCustomerByEmail(ctx context.Context, tenantID, email string) (*scheduling.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE tenant_id = $1 AND lower(email) = lower($2) AND active
		LIMIT 1
	`
	return p.findCustomer(ctx, query, tenantID, email)
}

// FindCustomerByEmailAnyStatus returns the customer holding the email,
// including deactivated ones.
func (p *Postgres) FindCustomerByEmailAnyStatus(ctx context.Context, tenantID, email string) (*scheduling.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE tenant_id = $1 AND lower(email) = lower($2)
		LIMIT 1
	`
	return p.findCustomer(ctx, query, tenantID, email)
}

func (p *Postgres) findCustomer(ctx context.Context, query, tenantID, email string) (*scheduling.Customer, error) {
	var c scheduling.Customer
	if err := p.db.QueryRow(ctx, query, tenantID, strings.TrimSpace(email)).Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&c.Email,
		&c.Phone,
		&c.Active,
		&c.CreatedAt,
	); err != nil {
		return nil, classify("find customer", err)
	}
	return &c, nil
}

// CreateCustomer inserts a customer. The unique index on
// (tenant_id, lower(email)) turns a lost race into scheduling.ErrDuplicate.
func (p *Postgres) CreateCustomer(ctx context.Context, c *scheduling.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = p.now()
	}
	query := `
		INSERT INTO customers (id, tenant_id, name, email, phone, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := p.db.Exec(ctx, query,
		c.ID,
		c.TenantID,
		c.Name,
		c.Email,
		c.Phone,
		c.Active,
		c.CreatedAt,
	); err != nil {
		return classify("create customer", err)
	}
	return nil
}

const attendantColumns = `id, tenant_id, name, COALESCE(specialty_id, ''), active, created_at`

// ListActiveAttendants returns active attendants in creation order.
func (p *Postgres) ListActiveAttendants(ctx context.Context, tenantID string) ([]scheduling.Attendant, error) {
	query := `
		SELECT ` + attendantColumns + `
		FROM attendants
		WHERE tenant_id = $1 AND active
		ORDER BY created_at, id
	`
	return p.queryAttendants(ctx, "list attendants", query, tenantID)
}

// ListActiveAttendantsBySpecialty returns active attendants of a specialty in creation order.
func (p *Postgres) ListActiveAttendantsBySpecialty(ctx context.Context, tenantID, specialtyID string) ([]scheduling.Attendant, error) {
	query := `
		SELECT ` + attendantColumns + `
		FROM attendants
		WHERE tenant_id = $1 AND specialty_id = $2 AND active
		ORDER BY created_at, id
	`
	return p.queryAttendants(ctx, "list attendants by specialty", query, tenantID, specialtyID)
}

// GetAttendant loads one attendant scoped to the tenant.
func (p *Postgres) GetAttendant(ctx context.Context, tenantID, attendantID string) (*scheduling.Attendant, error) {
	query := `
		SELECT ` + attendantColumns + `
		FROM attendants
		WHERE tenant_id = $1 AND id = $2
	`
	var a scheduling.Attendant
	if err := p.db.QueryRow(ctx, query, tenantID, attendantID).Scan(
		&a.ID,
		&a.TenantID,
		&a.Name,
		&a.SpecialtyID,
		&a.Active,
		&a.CreatedAt,
	); err != nil {
		return nil, classify("get attendant", err)
	}
	return &a, nil
}

func (p *Postgres) queryAttendants(ctx context.Context, op, query string, args ...any) ([]scheduling.Attendant, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []scheduling.Attendant
	for rows.Next() {
		var a scheduling.Attendant
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.SpecialtyID, &a.Active, &a.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// ListWorkingIntervals returns the attendant's intervals for a weekday.
func (p *Postgres) ListWorkingIntervals(ctx context.Context, tenantID, attendantID string, weekday time.Weekday) ([]scheduling.WorkingInterval, error) {
	query := `
		SELECT id, tenant_id, attendant_id, weekday, start_minute, end_minute
		FROM working_intervals
		WHERE tenant_id = $1 AND attendant_id = $2 AND weekday = $3
		ORDER BY start_minute
	`
	rows, err := p.db.Query(ctx, query, tenantID, attendantID, int(weekday))
	if err != nil {
		return nil, classify("list working intervals", err)
	}
	defer rows.Close()

	var out []scheduling.WorkingInterval
	for rows.Next() {
		var (
			w   scheduling.WorkingInterval
			day int
		)
		if err := rows.Scan(&w.ID, &w.TenantID, &w.AttendantID, &day, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, classify("list working intervals", err)
		}
		w.Weekday = time.Weekday(day)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list working intervals", err)
	}
	return out, nil
}

const appointmentColumns = `a.id, a.tenant_id, a.customer_id, a.attendant_id, a.starts_at, a.slot_start, a.status, a.notes, a.created_at, a.updated_at`

// ListAppointments returns appointments matching the filter ordered by start.
func (p *Postgres) ListAppointments(ctx context.Context, tenantID string, filter scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
	conds := []string{"a.tenant_id = $1"}
	args := []any{tenantID}
	if email := strings.TrimSpace(filter.CustomerEmail); email != "" {
		args = append(args, email)
		conds = append(conds, fmt.Sprintf("lower(c.email) = lower($%d)", len(args)))
	}
	if filter.AttendantID != "" {
		args = append(args, filter.AttendantID)
		conds = append(conds, fmt.Sprintf("a.attendant_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("a.starts_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("a.starts_at < $%d", len(args)))
	}
	if filter.ActiveOnly {
		conds = append(conds, "a.status <> 'canceled'")
	}

	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments a
		JOIN customers c ON c.id = a.customer_id AND c.tenant_id = a.tenant_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY a.starts_at, a.created_at
	`
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list appointments", err)
	}
	defer rows.Close()

	var out []scheduling.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, classify("list appointments", err)
		}
		out = append(out, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list appointments", err)
	}
	return out, nil
}

// FindActiveAppointmentAt returns the active appointment holding a slot.
func (p *Postgres) FindActiveAppointmentAt(ctx context.Context, tenantID, attendantID string, slotStart time.Time) (*scheduling.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments a
		WHERE a.tenant_id = $1 AND a.attendant_id = $2 AND a.slot_start = $3 AND a.status <> 'canceled'
		LIMIT 1
	`
	appt, err := scanAppointment(p.db.QueryRow(ctx, query, tenantID, attendantID, slotStart))
	if err != nil {
		return nil, classify("find appointment at slot", err)
	}
	return appt, nil
}

// FindLatestActiveAppointment returns the most recently created active
// appointment for the email starting in [from, to).
func (p *Postgres) FindLatestActiveAppointment(ctx context.Context, tenantID, email string, from, to time.Time) (*scheduling.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments a
		JOIN customers c ON c.id = a.customer_id AND c.tenant_id = a.tenant_id
		WHERE a.tenant_id = $1
		  AND lower(c.email) = lower($2)
		  AND a.starts_at >= $3 AND a.starts_at < $4
		  AND a.status <> 'canceled'
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT 1
	`
	appt, err := scanAppointment(p.db.QueryRow(ctx, query, tenantID, strings.TrimSpace(email), from, to))
	if err != nil {
		return nil, classify("find latest appointment", err)
	}
	return appt, nil
}

// CreateAppointment inserts an appointment. The partial unique index on
// (tenant_id, attendant_id, slot_start) rejects double bookings.
func (p *Postgres) CreateAppointment(ctx context.Context, appt *scheduling.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := p.now()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	query := `
		INSERT INTO appointments (id, tenant_id, customer_id, attendant_id, starts_at, slot_start, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := p.db.Exec(ctx, query,
		appt.ID,
		appt.TenantID,
		appt.CustomerID,
		appt.AttendantID,
		appt.StartsAt,
		appt.SlotStart,
		string(appt.Status),
		appt.Notes,
		appt.CreatedAt,
		appt.UpdatedAt,
	); err != nil {
		return classify("create appointment", err)
	}
	return nil
}

// UpdateAppointment writes the mutable fields of an appointment.
func (p *Postgres) UpdateAppointment(ctx context.Context, appt *scheduling.Appointment) error {
	appt.UpdatedAt = p.now()
	query := `
		UPDATE appointments
		SET attendant_id = $3, starts_at = $4, slot_start = $5, status = $6, notes = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
	`
	tag, err := p.db.Exec(ctx, query,
		appt.TenantID,
		appt.ID,
		appt.AttendantID,
		appt.StartsAt,
		appt.SlotStart,
		string(appt.Status),
		appt.Notes,
		appt.UpdatedAt,
	)
	if err != nil {
		return classify("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update appointment: %w", scheduling.ErrNotFound)
	}
	return nil
}

func scanAppointment(row pgx.Row) (*scheduling.Appointment, error) {
	var (
		a      scheduling.Appointment
		status string
	)
	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.CustomerID,
		&a.AttendantID,
		&a.StartsAt,
		&a.SlotStart,
		&status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = scheduling.Status(status)
	return &a, nil
}
