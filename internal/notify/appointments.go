package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-intent-engine/internal/events"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

// TenantResolver supplies the tenant location used to render times.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (tenancy.Tenant, error)
}

// AppointmentNotifier emails the customer when an appointment is scheduled,
// canceled or moved. It is registered as an event handler.
type AppointmentNotifier struct {
	email   EmailSender
	tenants TenantResolver
	logger  *logging.Logger
}

func NewAppointmentNotifier(email EmailSender, tenants TenantResolver, logger *logging.Logger) *AppointmentNotifier {
	if email == nil {
		panic("notify: email sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentNotifier{email: email, tenants: tenants, logger: logger}
}

var _ events.DeliveryHandler = (*AppointmentNotifier)(nil)

type rescheduledPayload struct {
	events.AppointmentDetails
	PreviousStartsAt time.Time `json:"previous_starts_at"`
}

// Handle renders and sends the email for one envelope. Unknown event types
// are ignored.
func (n *AppointmentNotifier) Handle(ctx context.Context, env events.Envelope) error {
	var payload rescheduledPayload
	switch env.EventType {
	case events.TypeAppointmentScheduled, events.TypeAppointmentCanceled, events.TypeAppointmentRescheduled:
	default:
		return nil
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("notify: decode %s: %w", env.EventType, err)
	}
	if strings.TrimSpace(payload.CustomerEmail) == "" {
		n.logger.Debug("notify: no customer email on event, skipping", "event_id", env.EventID, "tenant_id", env.TenantID)
		return nil
	}

	loc := n.location(ctx, env.TenantID)
	msg := renderAppointmentEmail(env.EventType, payload, loc)
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s email: %w", env.EventType, err)
	}
	return nil
}

func (n *AppointmentNotifier) location(ctx context.Context, tenantID string) *time.Location {
	if n.tenants == nil {
		return time.UTC
	}
	tenant, err := n.tenants.Resolve(ctx, tenantID)
	if err != nil {
		n.logger.Warn("notify: tenant lookup failed, using UTC", "error", err, "tenant_id", tenantID)
		return time.UTC
	}
	return tenant.Loc()
}

const whenLayout = "Monday, 02 Jan 2006 at 15:04 MST"

func renderAppointmentEmail(eventType string, p rescheduledPayload, loc *time.Location) EmailMessage {
	name := strings.TrimSpace(p.CustomerName)
	if name == "" {
		name = "there"
	}
	with := ""
	if p.AttendantName != "" {
		with = " with " + p.AttendantName
	}
	when := p.StartsAt.In(loc).Format(whenLayout)

	var subject, line string
	switch eventType {
	case events.TypeAppointmentCanceled:
		subject = "Your appointment was canceled"
		line = fmt.Sprintf("Your appointment%s on %s has been canceled.", with, when)
	case events.TypeAppointmentRescheduled:
		subject = "Your appointment was rescheduled"
		line = fmt.Sprintf("Your appointment%s has moved from %s to %s.", with, p.PreviousStartsAt.In(loc).Format(whenLayout), when)
	default:
		subject = "Your appointment is booked"
		line = fmt.Sprintf("Your appointment%s is booked for %s.", with, when)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n%s\n", name, line)
	if p.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", p.Notes)
	}
	return EmailMessage{
		To:      p.CustomerEmail,
		ToName:  p.CustomerName,
		Subject: subject,
		Body:    b.String(),
	}
}
