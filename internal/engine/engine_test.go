package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-intent-engine/internal/availability"
	"github.com/wolfman30/appointment-intent-engine/internal/dispatch"
	"github.com/wolfman30/appointment-intent-engine/internal/interpret"
	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/internal/resolver"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/store"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
)

// Friday 2025-03-14, 08:00 UTC.
var fixedNow = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

type scriptedClient struct {
	reply string
	err   error
}

func (c *scriptedClient) Complete(context.Context, interpret.Request) (interpret.Response, error) {
	return interpret.Response{Text: c.reply}, c.err
}

type harness struct {
	mem    *store.Memory
	client *scriptedClient
	engine *Engine
	silva  scheduling.Attendant
	souza  scheduling.Attendant
	tenant tenancy.Tenant
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	h := &harness{mem: mem, client: &scriptedClient{}, tenant: tenancy.New("tenant-a", nil)}
	dentistry := mem.AddSpecialty(scheduling.Specialty{TenantID: "tenant-a", Name: "Dentistry"})
	h.silva = mem.AddAttendant(scheduling.Attendant{TenantID: "tenant-a", Name: "João Silva", SpecialtyID: dentistry.ID, Active: true})
	h.souza = mem.AddAttendant(scheduling.Attendant{TenantID: "tenant-a", Name: "Maria Souza", Active: true})
	for _, a := range []scheduling.Attendant{h.silva, h.souza} {
		_, err := mem.AddWorkingInterval(scheduling.WorkingInterval{
			TenantID: "tenant-a", AttendantID: a.ID, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60,
		})
		require.NoError(t, err)
	}

	m := metrics.NewIntentMetrics(prometheus.NewRegistry())
	res := resolver.New(mem, resolver.Options{}, m, nil)
	interp := interpret.New(h.client, mem, interpret.Config{Provider: "test", Model: "m", Timeout: time.Second}, nil, m, nil).
		WithClock(func() time.Time { return fixedNow })
	clock := func() time.Time { return fixedNow }

	h.engine = New(Deps{
		Interpreter: interp,
		Dispatcher:  dispatch.New(mem, res, nil, nil),
		Slots:       availability.New(mem, nil).WithClock(clock),
		Attendants:  mem,
		Resolver:    res,
	}, Config{DefaultLimit: 5, DefaultDays: 7, MaxDays: 14}, m, nil).WithClock(clock)
	return h
}

func TestProcessIntent_Schedules(t *testing.T) {
	h := newHarness(t)
	h.client.reply = "```json\n" + `{"action":"schedule","customerEmail":"a@x.com","attendantName":"Dr. Silva","date":"2025-03-15","time":"10:00"}` + "\n```"

	res, err := h.engine.ProcessIntent(context.Background(), h.tenant, "book me with Dr. Silva tomorrow at 10")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	require.NotNil(t, res.Appointment)
	assert.Equal(t, scheduling.StatusScheduled, res.Appointment.Status)
	assert.Equal(t, h.silva.ID, res.Appointment.AttendantID)
	assert.Equal(t, "a", res.Customer.Name)
}

func TestProcessIntent_SlotConflict(t *testing.T) {
	h := newHarness(t)
	h.client.reply = `{"action":"schedule","customerEmail":"b@x.com","attendantName":"Silva","date":"2025-03-15","time":"10:00"}`
	_, err := h.engine.ProcessIntent(context.Background(), h.tenant, "first")
	require.NoError(t, err)

	h.client.reply = `{"action":"schedule","customerEmail":"a@x.com","attendantName":"Dr. Silva","date":"2025-03-15","time":"10:00"}`
	_, err = h.engine.ProcessIntent(context.Background(), h.tenant, "second")
	require.ErrorIs(t, err, scheduling.ErrSlotConflict)
	assert.Equal(t, "conflict", Outcome(err))

	all, err := h.mem.ListAppointments(context.Background(), h.tenant.ID, scheduling.AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessIntent_CancelNotFound(t *testing.T) {
	h := newHarness(t)
	h.client.reply = `{"action":"cancel","customerEmail":"a@x.com","date":"2025-03-15"}`

	_, err := h.engine.ProcessIntent(context.Background(), h.tenant, "cancel my appointment")
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)
}

func TestProcessIntent_Clarification(t *testing.T) {
	h := newHarness(t)
	h.client.reply = `{"success":false,"message":"What is your email?"}`

	res, err := h.engine.ProcessIntent(context.Background(), h.tenant, "book tomorrow")
	require.NoError(t, err)
	assert.Equal(t, StatusClarification, res.Status)
	assert.Equal(t, "What is your email?", res.Message)
	assert.Nil(t, res.Appointment)
}

func TestProcessIntent_CollaboratorFailures(t *testing.T) {
	h := newHarness(t)

	h.client.reply = "I booked it for you!"
	_, err := h.engine.ProcessIntent(context.Background(), h.tenant, "book")
	assert.ErrorIs(t, err, scheduling.ErrMalformedIntent)

	h.client.reply, h.client.err = "", errors.New("503 from provider")
	_, err = h.engine.ProcessIntent(context.Background(), h.tenant, "book")
	assert.ErrorIs(t, err, scheduling.ErrInterpretationUnavailable)
	assert.True(t, scheduling.IsRetryable(err))

	_, err = h.engine.ProcessIntent(context.Background(), tenancy.Tenant{}, "book")
	assert.ErrorIs(t, err, scheduling.ErrMissingTenant)
}

func TestValidateIntentText(t *testing.T) {
	h := newHarness(t)

	h.client.reply = `{"action":"schedule","customerEmail":"a@x.com","date":"2025-03-15","time":"10:00"}`
	_, err := h.engine.ValidateIntentText(context.Background(), h.tenant, "book")
	assert.ErrorIs(t, err, scheduling.ErrInvalidIntent, "attendant missing")

	h.client.reply = `{"action":"list","customerEmail":"a@x.com"}`
	out, err := h.engine.ValidateIntentText(context.Background(), h.tenant, "what do I have")
	require.NoError(t, err)
	require.NotNil(t, out.Intent)

	h.client.reply = `{"success":false,"message":"Which day?"}`
	out, err = h.engine.ValidateIntentText(context.Background(), h.tenant, "cancel")
	require.NoError(t, err)
	assert.True(t, out.IsClarification())

	// Validation never writes.
	_, err = h.mem.FindCustomerByEmail(context.Background(), h.tenant.ID, "a@x.com")
	assert.ErrorIs(t, err, scheduling.ErrNotFound)
}

func slotHours(slots []scheduling.Slot) []int {
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Hour)
	}
	return out
}

func TestSuggestSlots_NextMondayForNamedAttendant(t *testing.T) {
	h := newHarness(t)

	slots, err := h.engine.SuggestSlots(context.Background(), h.tenant, Preferences{AttendantName: "João Silva"})
	require.NoError(t, err)
	assert.Equal(t, []int{9, 10, 11}, slotHours(slots))
	for _, s := range slots {
		assert.Equal(t, h.silva.ID, s.AttendantID)
		assert.Equal(t, scheduling.Date{Year: 2025, Month: time.March, Day: 17}, s.Date)
	}
}

func TestSuggestSlots_CandidatePriority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	all, err := h.engine.SuggestSlots(ctx, h.tenant, Preferences{})
	require.NoError(t, err)
	assert.Len(t, all, 5, "default limit")
	assert.Equal(t, h.silva.ID, all[0].AttendantID)
	assert.Equal(t, h.souza.ID, all[3].AttendantID)

	reversed, err := h.engine.SuggestSlots(ctx, h.tenant, Preferences{AttendantIDs: []string{h.souza.ID, h.silva.ID}})
	require.NoError(t, err)
	assert.Equal(t, h.souza.ID, reversed[0].AttendantID, "explicit order is kept")

	silva, _ := h.mem.GetAttendant(ctx, h.tenant.ID, h.silva.ID)
	bySpecialty, err := h.engine.SuggestSlots(ctx, h.tenant, Preferences{SpecialtyID: silva.SpecialtyID})
	require.NoError(t, err)
	for _, s := range bySpecialty {
		assert.Equal(t, h.silva.ID, s.AttendantID)
	}
}

func TestSuggestSlots_LimitsAndValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	zero := 0
	slots, err := h.engine.SuggestSlots(ctx, h.tenant, Preferences{Limit: &zero})
	require.NoError(t, err)
	assert.Empty(t, slots)

	two := 2
	slots, err = h.engine.SuggestSlots(ctx, h.tenant, Preferences{Limit: &two})
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	_, err = h.engine.SuggestSlots(ctx, h.tenant, Preferences{AttendantIDs: []string{"missing"}})
	assert.ErrorIs(t, err, scheduling.ErrAttendantNotFound)

	// Another tenant's attendant id is not found either.
	_, err = h.engine.SuggestSlots(ctx, tenancy.New("tenant-b", nil), Preferences{AttendantIDs: []string{h.silva.ID}})
	assert.ErrorIs(t, err, scheduling.ErrAttendantNotFound)

	// A start date beyond the range yields nothing: Monday is outside a 2-day window from Tuesday.
	slots, err = h.engine.SuggestSlots(ctx, h.tenant, Preferences{
		StartDate: scheduling.Date{Year: 2025, Month: time.March, Day: 18}, Days: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestSuggestSlots_ExcludesBookedHours(t *testing.T) {
	h := newHarness(t)
	h.client.reply = `{"action":"schedule","customerEmail":"a@x.com","attendantName":"Silva","date":"2025-03-17","time":"10:00"}`
	_, err := h.engine.ProcessIntent(context.Background(), h.tenant, "book")
	require.NoError(t, err)

	slots, err := h.engine.SuggestSlots(context.Background(), h.tenant, Preferences{AttendantIDs: []string{h.silva.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int{9, 11}, slotHours(slots))
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "timeout", Outcome(scheduling.ErrInterpretationTimeout))
	assert.Equal(t, "unavailable", Outcome(scheduling.ErrStoreUnavailable))
	assert.Equal(t, "ambiguous", Outcome(scheduling.ErrAmbiguousAttendant))
	assert.Equal(t, "inactive_customer", Outcome(scheduling.ErrCustomerInactive))
	assert.Equal(t, "canceled", Outcome(context.Canceled))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
