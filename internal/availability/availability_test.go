package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/store"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
)

// 2025-03-17 is a Monday.
var monday = scheduling.Date{Year: 2025, Month: time.March, Day: 17}

func longAgo() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }

func seed(t *testing.T, mem *store.Memory, tenantID string, weekday time.Weekday, start, end int) scheduling.Attendant {
	t.Helper()
	a := mem.AddAttendant(scheduling.Attendant{TenantID: tenantID, Name: "Silva", Active: true})
	_, err := mem.AddWorkingInterval(scheduling.WorkingInterval{
		TenantID: tenantID, AttendantID: a.ID, Weekday: weekday, StartMinute: start, EndMinute: end,
	})
	require.NoError(t, err)
	return a
}

func hours(slots []scheduling.Slot) []int {
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Hour)
	}
	return out
}

func TestSuggestSlots_WholeHoursInsideInterval(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Monday, 9*60, 12*60)
	e := New(mem, nil).WithClock(longAgo)

	slots, err := e.SuggestSlots(context.Background(), tenancy.New("t1", nil), []string{a.ID}, Range{From: monday, Days: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 10, 11}, hours(slots))
	for _, s := range slots {
		assert.Equal(t, a.ID, s.AttendantID)
		assert.Equal(t, monday, s.Date)
	}
}

func TestSuggestSlots_PartialHoursAreDropped(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Monday, 9*60+30, 11*60+45)
	e := New(mem, nil).WithClock(longAgo)

	slots, err := e.SuggestSlots(context.Background(), tenancy.New("t1", nil), []string{a.ID}, Range{From: monday, Days: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, hours(slots))
}

func TestSuggestSlots_SkipsBookedHours(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Monday, 9*60, 12*60)
	tenant := tenancy.New("t1", loc)

	booked := monday.At(10, 0, loc)
	require.NoError(t, mem.CreateAppointment(context.Background(), &scheduling.Appointment{
		TenantID: "t1", CustomerID: "c1", AttendantID: a.ID,
		StartsAt: booked, SlotStart: booked, Status: scheduling.StatusScheduled,
	}))
	canceled := monday.At(11, 0, loc)
	require.NoError(t, mem.CreateAppointment(context.Background(), &scheduling.Appointment{
		TenantID: "t1", CustomerID: "c1", AttendantID: a.ID,
		StartsAt: canceled, SlotStart: canceled, Status: scheduling.StatusCanceled,
	}))

	slots, err := New(mem, nil).WithClock(longAgo).SuggestSlots(context.Background(), tenant, []string{a.ID}, Range{From: monday, Days: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 11}, hours(slots), "canceled appointments free their hour")
	assert.True(t, slots[0].StartsAt.Equal(monday.At(9, 0, loc)))
}

func TestSuggestSlots_OrderAndLimit(t *testing.T) {
	mem := store.NewMemory()
	first := seed(t, mem, "t1", time.Monday, 9*60, 11*60)
	second := seed(t, mem, "t1", time.Monday, 8*60, 10*60)
	_, err := mem.AddWorkingInterval(scheduling.WorkingInterval{
		TenantID: "t1", AttendantID: first.ID, Weekday: time.Tuesday, StartMinute: 14 * 60, EndMinute: 15 * 60,
	})
	require.NoError(t, err)
	e := New(mem, nil).WithClock(longAgo)
	tenant := tenancy.New("t1", nil)
	ids := []string{first.ID, second.ID}

	slots, err := e.SuggestSlots(context.Background(), tenant, ids, Range{From: monday, Days: 2}, 10)
	require.NoError(t, err)
	require.Len(t, slots, 5)
	assert.Equal(t, []string{first.ID, first.ID, second.ID, second.ID, first.ID},
		[]string{slots[0].AttendantID, slots[1].AttendantID, slots[2].AttendantID, slots[3].AttendantID, slots[4].AttendantID})
	assert.Equal(t, []int{9, 10, 8, 9, 14}, hours(slots))
	assert.Equal(t, monday.AddDays(1), slots[4].Date)

	limited, err := e.SuggestSlots(context.Background(), tenant, ids, Range{From: monday, Days: 2}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 10, 8}, hours(limited))

	none, err := e.SuggestSlots(context.Background(), tenant, ids, Range{From: monday, Days: 2}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSuggestSlots_SkipsPastSlots(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Monday, 9*60, 12*60)
	now := func() time.Time { return monday.At(10, 15, time.UTC) }

	slots, err := New(mem, nil).WithClock(now).SuggestSlots(context.Background(), tenancy.New("t1", nil), []string{a.ID}, Range{From: monday, Days: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{11}, hours(slots))
}

func TestSuggestSlots_SpringForwardSkipsMissingHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2025-03-09 is a Sunday; clocks jump from 02:00 to 03:00.
	sunday := scheduling.Date{Year: 2025, Month: time.March, Day: 9}
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Sunday, 1*60, 5*60)

	slots, err := New(mem, nil).WithClock(longAgo).SuggestSlots(context.Background(), tenancy.New("t1", loc), []string{a.ID}, Range{From: sunday, Days: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, hours(slots))
	seen := map[time.Time]bool{}
	for _, s := range slots {
		assert.False(t, seen[s.StartsAt], "duplicate slot at %s", s.StartsAt)
		seen[s.StartsAt] = true
		assert.Equal(t, s.Hour, s.StartsAt.In(loc).Hour())
	}
}

func TestSuggestSlots_TenantIsolation(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Monday, 9*60, 12*60)

	slots, err := New(mem, nil).WithClock(longAgo).SuggestSlots(context.Background(), tenancy.New("t2", nil), []string{a.ID}, Range{From: monday, Days: 1}, 10)
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = New(mem, nil).SuggestSlots(context.Background(), tenancy.Tenant{}, []string{a.ID}, Range{From: monday, Days: 1}, 10)
	assert.ErrorIs(t, err, scheduling.ErrMissingTenant)
}

// countingStore records store reads so laziness can be asserted.
type countingStore struct {
	*store.Memory
	intervalReads int
	listErr       error
}

func (s *countingStore) ListWorkingIntervals(ctx context.Context, tenantID, attendantID string, weekday time.Weekday) ([]scheduling.WorkingInterval, error) {
	s.intervalReads++
	return s.Memory.ListWorkingIntervals(ctx, tenantID, attendantID, weekday)
}

func (s *countingStore) ListAppointments(ctx context.Context, tenantID string, filter scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Memory.ListAppointments(ctx, tenantID, filter)
}

func TestIterator_StopsReadingAtLimit(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Monday, 9*60, 12*60)
	cs := &countingStore{Memory: mem}
	e := New(cs, nil).WithClock(longAgo)

	it := e.Slots(context.Background(), tenancy.New("t1", nil), []string{a.ID}, Range{From: monday, Days: 30}, 2)
	var n int
	for it.Next() {
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, cs.intervalReads, "later days are never read")
	assert.False(t, it.Next(), "iterator is not restartable")
}

func TestIterator_SurfacesStoreError(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "t1", time.Monday, 9*60, 12*60)
	cs := &countingStore{Memory: mem, listErr: scheduling.ErrStoreUnavailable}

	it := New(cs, nil).WithClock(longAgo).Slots(context.Background(), tenancy.New("t1", nil), []string{a.ID}, Range{From: monday, Days: 1}, 5)
	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), scheduling.ErrStoreUnavailable))
}
