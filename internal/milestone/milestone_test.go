package milestone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"couplesync/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestDaysTogetherSameDayIsZero(t *testing.T) {
	for _, d := range []time.Time{
		date(2020, time.January, 1),
		date(2024, time.February, 29),
		date(2025, time.December, 31),
	} {
		require.Equal(t, 0, DaysTogether(d, d))
		// Intra-day times normalize away.
		require.Equal(t, 0, DaysTogether(d.Add(3*time.Hour), d.Add(23*time.Hour)))
	}
}

func TestDaysTogetherMonotonic(t *testing.T) {
	start := date(2023, time.March, 10)
	prev := -1
	for i := 0; i < 400; i++ {
		got := DaysTogether(start, start.AddDate(0, 0, i))
		require.Equal(t, i, got)
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestNextMilestoneSmall(t *testing.T) {
	start := date(2025, time.January, 1)
	m := NextMilestone(9, start, nil, PreferGeneric)
	require.Equal(t, 10, m.Day)
	require.Equal(t, models.MilestoneSmall, m.Type)
	require.Equal(t, "10 Days", m.Title)
}

func TestNextMilestoneBigTitles(t *testing.T) {
	start := date(2025, time.January, 1)

	m := NextMilestone(99, start, nil, PreferGeneric)
	require.Equal(t, 100, m.Day)
	require.Equal(t, models.MilestoneBig, m.Type)
	require.Equal(t, "100 Days", m.Title)

	m = NextMilestone(364, start, nil, PreferGeneric)
	require.Equal(t, 365, m.Day)
	require.Equal(t, "1 Year", m.Title)
	require.Equal(t, "365 days of love.", m.Description)

	m = NextMilestone(999, start, nil, PreferGeneric)
	require.Equal(t, 1000, m.Day)
	require.Equal(t, "1000 Days", m.Title)
}

func TestNextMilestoneCustomEvent(t *testing.T) {
	start := date(2025, time.January, 1)
	events := []models.CustomEvent{
		{ID: "e1", Title: "First Trip", Date: "2025-01-06"},
	}
	m := NextMilestone(2, start, events, PreferGeneric)
	require.Equal(t, 5, m.Day)
	require.Equal(t, models.MilestoneCustom, m.Type)
	require.Equal(t, "First Trip", m.Title)
}

func TestNextMilestoneRecurringProjectsForward(t *testing.T) {
	start := date(2024, time.June, 1)
	// Anniversary originally before the start date; recurring projection
	// must land it in the current or following year.
	events := []models.CustomEvent{
		{ID: "e1", Title: "Anniversary", Date: "2020-06-10", IsRecurring: true},
	}
	// 100 days in: today is 2024-09-09, next occurrence 2025-06-10.
	m := NextMilestone(100, start, events, PreferCustom)
	require.Equal(t, models.MilestoneSmall, m.Type) // day 150 comes first
	require.Equal(t, 150, m.Day)

	// Just before the projected anniversary (day 374), nothing generic
	// sits between 373 and 374.
	m = NextMilestone(373, start, events, PreferGeneric)
	require.Equal(t, "Anniversary", m.Title)
	require.Equal(t, 374, m.Day)
}

func TestNextMilestoneTieBreakPolicy(t *testing.T) {
	start := date(2025, time.January, 1)
	// Day 10 counted from start lands on Jan 11.
	events := []models.CustomEvent{
		{ID: "e1", Title: "Our Day", Date: "2025-01-11"},
	}

	m := NextMilestone(9, start, events, PreferGeneric)
	require.Equal(t, 10, m.Day)
	require.Equal(t, models.MilestoneSmall, m.Type)

	m = NextMilestone(9, start, events, PreferCustom)
	require.Equal(t, 10, m.Day)
	require.Equal(t, models.MilestoneCustom, m.Type)
	require.Equal(t, "Our Day", m.Title)
}

func TestNextMilestoneFallback(t *testing.T) {
	start := date(2010, time.January, 1)
	m := NextMilestone(6000, start, nil, PreferGeneric)
	require.Equal(t, 6100, m.Day)
	require.Equal(t, "Infinity", m.Title)
}

func TestIsBigMilestone(t *testing.T) {
	require.True(t, IsBigMilestone(100))
	require.True(t, IsBigMilestone(365))
	require.True(t, IsBigMilestone(5000))
	require.False(t, IsBigMilestone(10))
	require.False(t, IsBigMilestone(99))
}

func TestTodayCustomEventRecurring(t *testing.T) {
	events := []models.CustomEvent{
		{ID: "e1", Title: "Anniversary", Date: "2020-03-15", IsRecurring: true},
	}

	ev, ok := TodayCustomEvent(events, date(2025, time.March, 15))
	require.True(t, ok)
	require.Equal(t, "Anniversary", ev.Title)

	_, ok = TodayCustomEvent(events, date(2025, time.March, 16))
	require.False(t, ok)
}

func TestTodayCustomEventNonRecurring(t *testing.T) {
	events := []models.CustomEvent{
		{ID: "e1", Title: "Trip", Date: "2024-07-04"},
	}

	_, ok := TodayCustomEvent(events, date(2025, time.July, 4))
	require.False(t, ok)

	ev, ok := TodayCustomEvent(events, date(2024, time.July, 4))
	require.True(t, ok)
	require.Equal(t, "Trip", ev.Title)
}

func TestUpcomingEventsWindow(t *testing.T) {
	today := date(2025, time.March, 1)
	events := []models.CustomEvent{
		{ID: "in", Title: "Soon", Date: "2025-03-10"},
		{ID: "out", Title: "Far", Date: "2025-05-01"},
		{ID: "past", Title: "Gone", Date: "2025-02-01"},
		{ID: "rec", Title: "Yearly", Date: "2019-03-05", IsRecurring: true},
	}

	got := UpcomingEvents(events, today, 30)
	require.Len(t, got, 2)
	require.Equal(t, "Yearly", got[0].Event.Title)
	require.Equal(t, 4, got[0].DaysUntil)
	require.Equal(t, "Soon", got[1].Event.Title)
	require.Equal(t, 9, got[1].DaysUntil)
}

func TestUpcomingEventsRecurringWrapsYear(t *testing.T) {
	today := date(2025, time.December, 20)
	events := []models.CustomEvent{
		{ID: "rec", Title: "New Year Trip", Date: "2020-01-03", IsRecurring: true},
	}
	got := UpcomingEvents(events, today, 30)
	require.Len(t, got, 1)
	require.Equal(t, date(2026, time.January, 3), got[0].NextOccurrence)
	require.Equal(t, 14, got[0].DaysUntil)
}
