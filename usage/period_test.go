package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/praxishq/entitle/subscription"
)

func TestCalendarMonth(t *testing.T) {
	now := time.Date(2025, 6, 17, 14, 30, 0, 0, time.UTC)
	p := CalendarMonth(now)

	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), p.End)
	assert.True(t, p.Contains(now))
	assert.False(t, p.Contains(p.End))
}

func TestAdvance(t *testing.T) {
	anchor := Period{
		Start: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
	}

	t.Run("within window is unchanged", func(t *testing.T) {
		now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, anchor, Advance(anchor, subscription.CadenceMonthly, now))
	})

	t.Run("one step forward", func(t *testing.T) {
		now := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
		got := Advance(anchor, subscription.CadenceMonthly, now)
		assert.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), got.Start)
		assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got.End)
		assert.True(t, got.Contains(now))
	})

	t.Run("multiple steps forward", func(t *testing.T) {
		now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
		got := Advance(anchor, subscription.CadenceMonthly, now)
		assert.True(t, got.Contains(now))
		assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), got.Start)
	})

	t.Run("annual cadence", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		got := Advance(anchor, subscription.CadenceAnnual, now)
		assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), got.Start)
		assert.Equal(t, time.Date(2027, 2, 10, 0, 0, 0, 0, time.UTC), got.End)
	})

	t.Run("zero window falls back to calendar month", func(t *testing.T) {
		now := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, CalendarMonth(now), Advance(Period{}, subscription.CadenceMonthly, now))
	})
}

func TestCurrentPeriod(t *testing.T) {
	now := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)

	t.Run("nil record uses calendar month", func(t *testing.T) {
		assert.Equal(t, CalendarMonth(now), CurrentPeriod(nil, now))
	})

	t.Run("record without anchor uses calendar month", func(t *testing.T) {
		r := subscription.DefaultRecord("user_1")
		assert.Equal(t, CalendarMonth(now), CurrentPeriod(r, now))
	})

	t.Run("anchored record advances its own window", func(t *testing.T) {
		r := subscription.DefaultRecord("user_1")
		r.Cadence = subscription.CadenceMonthly
		r.CurrentPeriodStart = time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)
		r.CurrentPeriodEnd = time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

		got := CurrentPeriod(r, now)
		assert.Equal(t, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), got.Start)
		assert.Equal(t, time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), got.End)
	})
}
