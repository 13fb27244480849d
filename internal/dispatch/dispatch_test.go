package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-intent-engine/internal/events"
	"github.com/wolfman30/appointment-intent-engine/internal/intent"
	"github.com/wolfman30/appointment-intent-engine/internal/resolver"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/store"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
)

var (
	tenantA = tenancy.New("tenant-a", nil)
	mar15   = scheduling.Date{Year: 2025, Month: time.March, Day: 15}
	mar17   = scheduling.Date{Year: 2025, Month: time.March, Day: 17}
)

type recordedEmitter struct {
	mu     sync.Mutex
	events []events.AppointmentEvent
}

func (r *recordedEmitter) Emit(_ context.Context, _ string, evt events.AppointmentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

type fixture struct {
	mem     *store.Memory
	d       *Dispatcher
	emitter *recordedEmitter
	silva   scheduling.Attendant
	souza   scheduling.Attendant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	f := &fixture{
		mem:     mem,
		emitter: &recordedEmitter{},
		silva:   mem.AddAttendant(scheduling.Attendant{TenantID: tenantA.ID, Name: "João Silva", Active: true}),
		souza:   mem.AddAttendant(scheduling.Attendant{TenantID: tenantA.ID, Name: "Maria Souza", Active: true}),
	}
	f.d = New(mem, resolver.New(mem, resolver.Options{}, nil, nil), f.emitter, nil)
	return f
}

func clock(h, m int) *intent.Clock { return &intent.Clock{Hour: h, Minute: m} }

func scheduleIntent(email, attendant string, date scheduling.Date, at *intent.Clock) *intent.Intent {
	return &intent.Intent{
		Action:        intent.ActionSchedule,
		CustomerEmail: email,
		AttendantName: attendant,
		Date:          date,
		Time:          at,
	}
}

func (f *fixture) appointments(t *testing.T) []scheduling.Appointment {
	t.Helper()
	out, err := f.mem.ListAppointments(context.Background(), tenantA.ID, scheduling.AppointmentFilter{})
	require.NoError(t, err)
	return out
}

func TestSchedule_CreatesOneScheduledAppointment(t *testing.T) {
	f := newFixture(t)

	res, err := f.d.Dispatch(context.Background(), tenantA, scheduleIntent("a@x.com", "Dr. Silva", mar15, clock(10, 30)))
	require.NoError(t, err)
	require.NotNil(t, res.Appointment)

	all := f.appointments(t)
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, scheduling.StatusScheduled, got.Status)
	assert.Equal(t, tenantA.ID, got.TenantID)
	assert.Equal(t, f.silva.ID, got.AttendantID)
	assert.Equal(t, res.Customer.ID, got.CustomerID)
	assert.True(t, got.StartsAt.Equal(mar15.At(10, 30, time.UTC)))
	assert.True(t, got.SlotStart.Equal(mar15.At(10, 0, time.UTC)))

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, events.TypeAppointmentScheduled, f.emitter.events[0].EventType())
	assert.Equal(t, "a@x.com", f.emitter.events[0].Details().CustomerEmail)
}

func TestSchedule_ConflictCreatesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), tenantA, scheduleIntent("b@x.com", "Silva", mar15, clock(10, 0)))
	require.NoError(t, err)

	_, err = f.d.Dispatch(context.Background(), tenantA, scheduleIntent("a@x.com", "Dr. Silva", mar15, clock(10, 0)))
	require.ErrorIs(t, err, scheduling.ErrSlotConflict)
	assert.True(t, scheduling.IsUserFacing(err))
	assert.Len(t, f.appointments(t), 1)
	assert.Len(t, f.emitter.events, 1)

	// Same hour with another attendant is fine.
	_, err = f.d.Dispatch(context.Background(), tenantA, scheduleIntent("a@x.com", "Souza", mar15, clock(10, 0)))
	require.NoError(t, err)
}

func TestSchedule_ConcurrentBookingsOneWinner(t *testing.T) {
	f := newFixture(t)
	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.d.Dispatch(context.Background(), tenantA, scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)))
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, scheduling.ErrSlotConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, conflicts)
	assert.Len(t, f.appointments(t), 1)
}

func TestDispatch_InvalidIntentBeforeResolution(t *testing.T) {
	f := newFixture(t)
	in := scheduleIntent("new@x.com", "Silva", scheduling.Date{}, clock(10, 0))

	_, err := f.d.Dispatch(context.Background(), tenantA, in)
	require.ErrorIs(t, err, scheduling.ErrInvalidIntent)

	_, err = f.mem.FindCustomerByEmail(context.Background(), tenantA.ID, "new@x.com")
	assert.ErrorIs(t, err, scheduling.ErrNotFound, "no orphan customer")
}

func TestSchedule_UnknownAttendantCreatesNoCustomer(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), tenantA, scheduleIntent("new@x.com", "Dr. Pereira", mar15, clock(10, 0)))
	require.ErrorIs(t, err, scheduling.ErrAttendantNotFound)

	_, err = f.mem.FindCustomerByEmail(context.Background(), tenantA.ID, "new@x.com")
	assert.ErrorIs(t, err, scheduling.ErrNotFound)
}

func TestDispatch_RequiresTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), tenancy.Tenant{}, scheduleIntent("a@x.com", "Silva", mar15, clock(10, 0)))
	assert.ErrorIs(t, err, scheduling.ErrMissingTenant)
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), tenantA, &intent.Intent{
		Action: intent.ActionCancel, CustomerEmail: "a@x.com", Date: mar15,
	})
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)
	assert.False(t, scheduling.IsRetryable(err))
}

func TestCancel_LatestActiveAppointmentOnDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.d.Dispatch(ctx, tenantA, scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)))
	require.NoError(t, err)
	second, err := f.d.Dispatch(ctx, tenantA, scheduleIntent("a@x.com", "Souza", mar15, clock(15, 0)))
	require.NoError(t, err)

	res, err := f.d.Dispatch(ctx, tenantA, &intent.Intent{Action: intent.ActionCancel, CustomerEmail: "A@X.com", Date: mar15})
	require.NoError(t, err)
	assert.Equal(t, second.Appointment.ID, res.Appointment.ID)
	assert.Equal(t, scheduling.StatusCanceled, res.Appointment.Status)
	require.NotNil(t, res.Attendant)
	assert.Equal(t, f.souza.ID, res.Attendant.ID)

	// The freed slot can be booked again.
	_, err = f.d.Dispatch(ctx, tenantA, scheduleIntent("c@x.com", "Souza", mar15, clock(15, 0)))
	require.NoError(t, err)

	last := f.emitter.events[len(f.emitter.events)-2]
	assert.Equal(t, events.TypeAppointmentCanceled, last.EventType())
}

func TestCancel_OtherTenantInvisible(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), tenantA, scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)))
	require.NoError(t, err)

	_, err = f.d.Dispatch(context.Background(), tenancy.New("tenant-b", nil), &intent.Intent{
		Action: intent.ActionCancel, CustomerEmail: "a@x.com", Date: mar15,
	})
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)
	assert.Equal(t, scheduling.StatusScheduled, f.appointments(t)[0].Status)
}

func TestReschedule_MovesAndKeepsAttendant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booked, err := f.d.Dispatch(ctx, tenantA, scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)))
	require.NoError(t, err)

	res, err := f.d.Dispatch(ctx, tenantA, &intent.Intent{
		Action: intent.ActionReschedule, CustomerEmail: "a@x.com",
		OriginalDate: mar15, Date: mar17, Time: clock(14, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, booked.Appointment.ID, res.Appointment.ID)
	assert.Equal(t, f.silva.ID, res.Appointment.AttendantID)
	assert.True(t, res.Appointment.StartsAt.Equal(mar17.At(14, 0, time.UTC)))

	evt, ok := f.emitter.events[len(f.emitter.events)-1].(events.AppointmentRescheduledV1)
	require.True(t, ok)
	assert.True(t, evt.PreviousStartsAt.Equal(mar15.At(9, 0, time.UTC)))
}

func TestReschedule_SameDayUsesDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.d.Dispatch(ctx, tenantA, scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)))
	require.NoError(t, err)

	res, err := f.d.Dispatch(ctx, tenantA, &intent.Intent{
		Action: intent.ActionReschedule, CustomerEmail: "a@x.com", AttendantName: "Souza",
		Date: mar15, Time: clock(9, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, f.souza.ID, res.Appointment.AttendantID)
}

func TestReschedule_ConflictOnNewSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.d.Dispatch(ctx, tenantA, scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)))
	require.NoError(t, err)
	_, err = f.d.Dispatch(ctx, tenantA, scheduleIntent("b@x.com", "Silva", mar17, clock(14, 0)))
	require.NoError(t, err)

	_, err = f.d.Dispatch(ctx, tenantA, &intent.Intent{
		Action: intent.ActionReschedule, CustomerEmail: "a@x.com",
		OriginalDate: mar15, Date: mar17, Time: clock(14, 30),
	})
	require.ErrorIs(t, err, scheduling.ErrSlotConflict)

	stored, err := f.mem.FindLatestActiveAppointment(ctx, tenantA.ID, "a@x.com", mar15.In(time.UTC), mar15.AddDays(1).In(time.UTC))
	require.NoError(t, err)
	assert.True(t, stored.StartsAt.Equal(mar15.At(9, 0, time.UTC)), "appointment stays put")

	// Moving within its own slot is not a conflict.
	_, err = f.d.Dispatch(ctx, tenantA, &intent.Intent{
		Action: intent.ActionReschedule, CustomerEmail: "a@x.com", Date: mar15, Time: clock(9, 30),
	})
	require.NoError(t, err)
}

func TestReschedule_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), tenantA, &intent.Intent{
		Action: intent.ActionReschedule, CustomerEmail: "a@x.com", Date: mar17, Time: clock(14, 0),
	})
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []*intent.Intent{
		scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)),
		scheduleIntent("a@x.com", "Silva", mar17, clock(9, 0)),
		scheduleIntent("b@x.com", "Souza", mar15, clock(9, 0)),
	} {
		_, err := f.d.Dispatch(ctx, tenantA, in)
		require.NoError(t, err)
	}

	res, err := f.d.Dispatch(ctx, tenantA, &intent.Intent{Action: intent.ActionList})
	require.NoError(t, err)
	assert.Len(t, res.Appointments, 3)

	res, err = f.d.Dispatch(ctx, tenantA, &intent.Intent{Action: intent.ActionList, CustomerEmail: "a@x.com"})
	require.NoError(t, err)
	assert.Len(t, res.Appointments, 2)

	res, err = f.d.Dispatch(ctx, tenantA, &intent.Intent{Action: intent.ActionList, Date: mar15})
	require.NoError(t, err)
	assert.Len(t, res.Appointments, 2)

	res, err = f.d.Dispatch(ctx, tenancy.New("tenant-b", nil), &intent.Intent{Action: intent.ActionList})
	require.NoError(t, err)
	assert.Empty(t, res.Appointments)
	assert.NotNil(t, res.Appointments)
	assert.Len(t, f.emitter.events, 3, "list emits nothing")
}

type failingAppointments struct {
	*store.Memory
}

func (failingAppointments) FindActiveAppointmentAt(context.Context, string, string, time.Time) (*scheduling.Appointment, error) {
	return nil, scheduling.ErrStoreUnavailable
}

func TestSchedule_StoreFailureIsRetryable(t *testing.T) {
	mem := store.NewMemory()
	mem.AddAttendant(scheduling.Attendant{TenantID: tenantA.ID, Name: "Silva", Active: true})
	d := New(failingAppointments{mem}, resolver.New(mem, resolver.Options{}, nil, nil), nil, nil)

	_, err := d.Dispatch(context.Background(), tenantA, scheduleIntent("a@x.com", "Silva", mar15, clock(9, 0)))
	require.Error(t, err)
	assert.True(t, scheduling.IsRetryable(err))
	assert.False(t, errors.Is(err, scheduling.ErrSlotConflict))
}

func TestSchedule_TenantLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	f := newFixture(t)
	tenant := tenancy.New(tenantA.ID, loc)

	res, err := f.d.Dispatch(context.Background(), tenant, scheduleIntent("a@x.com", "Silva", mar15, clock(22, 0)))
	require.NoError(t, err)
	assert.True(t, res.Appointment.StartsAt.Equal(time.Date(2025, 3, 16, 1, 0, 0, 0, time.UTC)))

	// Cancel by the local date even though the UTC date differs.
	_, err = f.d.Dispatch(context.Background(), tenant, &intent.Intent{Action: intent.ActionCancel, CustomerEmail: "a@x.com", Date: mar15})
	require.NoError(t, err)
}
