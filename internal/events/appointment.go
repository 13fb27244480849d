package events

import (
	"time"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
)

const (
	TypeAppointmentScheduled   = "appointment.scheduled.v1"
	TypeAppointmentCanceled    = "appointment.canceled.v1"
	TypeAppointmentRescheduled = "appointment.rescheduled.v1"
)

// AppointmentDetails is the payload shared by every appointment event.
type AppointmentDetails struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	CustomerID    string    `json:"customer_id"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	AttendantID   string    `json:"attendant_id"`
	AttendantName string    `json:"attendant_name,omitempty"`
	StartsAt      time.Time `json:"starts_at"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
}

// DetailsOf copies the appointment fields into an event payload.
func DetailsOf(appt scheduling.Appointment, customer *scheduling.Customer, attendant *scheduling.Attendant) AppointmentDetails {
	d := AppointmentDetails{
		AppointmentID: appt.ID,
		TenantID:      appt.TenantID,
		CustomerID:    appt.CustomerID,
		AttendantID:   appt.AttendantID,
		StartsAt:      appt.StartsAt,
		Status:        string(appt.Status),
		Notes:         appt.Notes,
	}
	if customer != nil {
		d.CustomerName = customer.Name
		d.CustomerEmail = customer.Email
	}
	if attendant != nil {
		d.AttendantName = attendant.Name
	}
	return d
}

func (d AppointmentDetails) aggregate() string {
	return "appointment:" + d.AppointmentID
}

type AppointmentScheduledV1 struct {
	AppointmentDetails
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (AppointmentScheduledV1) EventType() string { return TypeAppointmentScheduled }

type AppointmentCanceledV1 struct {
	AppointmentDetails
	CanceledAt time.Time `json:"canceled_at"`
}

func (AppointmentCanceledV1) EventType() string { return TypeAppointmentCanceled }

type AppointmentRescheduledV1 struct {
	AppointmentDetails
	PreviousStartsAt  time.Time `json:"previous_starts_at"`
	PreviousAttendant string    `json:"previous_attendant_id"`
	RescheduledAt     time.Time `json:"rescheduled_at"`
}

func (AppointmentRescheduledV1) EventType() string { return TypeAppointmentRescheduled }

// AppointmentEvent is implemented by the three lifecycle events.
type AppointmentEvent interface {
	CanonicalEvent
	Details() AppointmentDetails
}

func (e AppointmentScheduledV1) Details() AppointmentDetails   { return e.AppointmentDetails }
func (e AppointmentCanceledV1) Details() AppointmentDetails    { return e.AppointmentDetails }
func (e AppointmentRescheduledV1) Details() AppointmentDetails { return e.AppointmentDetails }
