// Package availability computes free one-hour slots from recurring weekly
// working intervals minus active appointments.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

// Store is the slice of the record store the engine reads.
type Store interface {
	scheduling.ScheduleStore
	ListAppointments(ctx context.Context, tenantID string, filter scheduling.AppointmentFilter) ([]scheduling.Appointment, error)
}

// Engine produces slot iterators.
type Engine struct {
	store  Store
	now    func() time.Time
	logger *logging.Logger
}

func New(store Store, logger *logging.Logger) *Engine {
	if store == nil {
		panic("availability: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{store: store, now: time.Now, logger: logger}
}

// WithClock overrides the clock used to skip slots already in the past.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Range is a run of consecutive calendar days starting at From.
type Range struct {
	From scheduling.Date
	Days int
}

// Slots returns a lazy iterator over free slots in (date, attendant, hour)
// order. Attendants are visited in the order given. Store reads happen one
// (date, attendant) pair at a time and stop once limit slots were produced.
func (e *Engine) Slots(ctx context.Context, tenant tenancy.Tenant, attendantIDs []string, r Range, limit int) *Iterator {
	it := &Iterator{
		ctx:        ctx,
		store:      e.store,
		tenant:     tenant,
		attendants: append([]string(nil), attendantIDs...),
		rng:        r,
		limit:      limit,
		now:        e.now(),
	}
	if err := tenant.Validate(); err != nil {
		it.err = err
	}
	return it
}

// SuggestSlots drains an iterator into a slice.
func (e *Engine) SuggestSlots(ctx context.Context, tenant tenancy.Tenant, attendantIDs []string, r Range, limit int) ([]scheduling.Slot, error) {
	it := e.Slots(ctx, tenant, attendantIDs, r, limit)
	var out []scheduling.Slot
	for it.Next() {
		out = append(out, it.Slot())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	e.logger.Debug("slots suggested", "tenant_id", tenant.ID, "count", len(out), "days", r.Days, "attendants", len(attendantIDs))
	return out, nil
}

// Iterator yields slots until the range is exhausted, the limit is reached,
// or a store read fails. It cannot be restarted.
type Iterator struct {
	ctx        context.Context
	store      Store
	tenant     tenancy.Tenant
	attendants []string
	rng        Range
	limit      int
	now        time.Time

	day      int
	att      int
	pending  []scheduling.Slot
	current  scheduling.Slot
	emitted  int
	err      error
	finished bool
}

// Next advances to the next slot.
func (it *Iterator) Next() bool {
	for {
		if it.finished || it.err != nil || it.emitted >= it.limit {
			it.finished = true
			return false
		}
		if len(it.pending) > 0 {
			it.current = it.pending[0]
			it.pending = it.pending[1:]
			it.emitted++
			return true
		}
		if it.day >= it.rng.Days || len(it.attendants) == 0 {
			it.finished = true
			return false
		}
		date := it.rng.From.AddDays(it.day)
		attendantID := it.attendants[it.att]
		it.att++
		if it.att == len(it.attendants) {
			it.att = 0
			it.day++
		}
		slots, err := it.freeSlots(date, attendantID)
		if err != nil {
			it.err = err
			continue
		}
		it.pending = slots
	}
}

// Slot returns the slot produced by the last successful Next.
func (it *Iterator) Slot() scheduling.Slot {
	return it.current
}

// Err returns the first store error, if any.
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) freeSlots(date scheduling.Date, attendantID string) ([]scheduling.Slot, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, fmt.Errorf("availability: %w", err)
	}
	loc := it.tenant.Loc()

	intervals, err := it.store.ListWorkingIntervals(it.ctx, it.tenant.ID, attendantID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: working intervals: %w", err)
	}
	if len(intervals) == 0 {
		return nil, nil
	}

	var open [24]bool
	for _, w := range intervals {
		if !w.Valid() {
			continue
		}
		for h := (w.StartMinute + 59) / 60; h*60+60 <= w.EndMinute; h++ {
			open[h] = true
		}
	}

	dayStart := date.In(loc)
	booked, err := it.store.ListAppointments(it.ctx, it.tenant.ID, scheduling.AppointmentFilter{
		AttendantID: attendantID,
		From:        dayStart,
		To:          date.AddDays(1).In(loc),
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("availability: appointments: %w", err)
	}
	for _, a := range booked {
		if !a.Status.Active() {
			continue
		}
		if local := a.StartsAt.In(loc); scheduling.DateOf(local) == date {
			open[local.Hour()] = false
		}
	}

	var out []scheduling.Slot
	for h, free := range open {
		if !free {
			continue
		}
		start := date.At(h, 0, loc)
		// Hours inside a DST gap normalize onto the next hour.
		if start.Hour() != h {
			continue
		}
		if start.Before(it.now) {
			continue
		}
		out = append(out, scheduling.Slot{AttendantID: attendantID, Date: date, Hour: h, StartsAt: start})
	}
	return out, nil
}
