package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-15")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 15}, d)
	assert.Equal(t, time.Saturday, d.Weekday())
	assert.Equal(t, "2025-03-17", d.AddDays(2).String())

	_, err = ParseDate("15/03/2025")
	assert.Error(t, err)
	_, err = ParseDate("2025-02-30")
	assert.Error(t, err)
}

func TestDateAcrossMonthAndJSON(t *testing.T) {
	d := Date{Year: 2024, Month: time.December, Day: 31}
	assert.Equal(t, "2025-01-01", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.False(t, d.Before(d))

	raw, err := json.Marshal(struct {
		D Date `json:"d"`
	}{D: d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-12-31"}`, string(raw))

	var back struct {
		D Date `json:"d"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back.D)
}

func TestDateInLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	d := Date{Year: 2025, Month: time.March, Day: 15}

	at := d.At(10, 30, loc)
	assert.Equal(t, 10, at.Hour())
	assert.Equal(t, loc, at.Location())
	assert.Equal(t, d, DateOf(d.In(loc)))
}

func TestSlotStartOf(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	// 04:50 UTC is 10:20 in Kolkata; the slot is the local 10:00 hour.
	ts := time.Date(2025, 3, 15, 4, 50, 0, 0, time.UTC)
	slot := SlotStartOf(ts, loc)
	assert.Equal(t, 10, slot.Hour())
	assert.Equal(t, 0, slot.Minute())
	assert.True(t, slot.Equal(time.Date(2025, 3, 15, 4, 30, 0, 0, time.UTC)))
}

func TestWorkingIntervalValid(t *testing.T) {
	assert.True(t, WorkingInterval{StartMinute: 9 * 60, EndMinute: 12 * 60}.Valid())
	assert.False(t, WorkingInterval{StartMinute: 12 * 60, EndMinute: 9 * 60}.Valid())
	assert.False(t, WorkingInterval{StartMinute: 0, EndMinute: 25 * 60}.Valid())
}

func TestStatusActive(t *testing.T) {
	assert.True(t, StatusScheduled.Active())
	assert.True(t, StatusConfirmed.Active())
	assert.True(t, StatusCompleted.Active())
	assert.False(t, StatusCanceled.Active())
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("%w: missing date", ErrInvalidIntent)
	assert.True(t, IsUserFacing(wrapped))
	assert.False(t, IsRetryable(wrapped))

	timeout := fmt.Errorf("interpret: %w", ErrInterpretationTimeout)
	assert.True(t, IsRetryable(timeout))
	assert.False(t, IsUserFacing(timeout))

	assert.True(t, IsRetryable(fmt.Errorf("store: %w", ErrStoreUnavailable)))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsUserFacing(nil))
	assert.False(t, IsUserFacing(errors.New("boom")))
	assert.True(t, IsCanceled(fmt.Errorf("x: %w", context.Canceled)))
}
