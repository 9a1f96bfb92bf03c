// Package milestone computes elapsed days and upcoming noteworthy days
// for a pair. Every function is pure: identical inputs always yield
// identical outputs, so callers pass "today" explicitly.
package milestone

import (
	"fmt"
	"math"
	"sort"
	"time"

	"couplesync/internal/models"
)

var smallMilestones = []int{10, 50, 150, 200, 250, 300, 400, 600, 700, 800, 900}
var bigMilestones = []int{100, 365, 500, 730, 1000, 1500, 2000, 3000, 5000}

// TieBreak decides which candidate wins when a generic numeric milestone
// and a custom event land on the same day.
type TieBreak int

const (
	// PreferGeneric keeps the fixed small/big milestone ahead of a
	// same-day custom event.
	PreferGeneric TieBreak = iota
	// PreferCustom surfaces the user's own event ahead of a same-day
	// generic milestone.
	PreferCustom
)

// Midnight normalizes t to local midnight.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysTogether returns the number of whole days elapsed from startDate to
// today, both normalized to local midnight. Same-day yields 0. The ceil
// keeps DST-shortened days counting as full days.
func DaysTogether(startDate, today time.Time) int {
	diff := Midnight(today).Sub(Midnight(startDate))
	return int(math.Ceil(diff.Hours() / 24))
}

// dayCountFor returns the day-count a target date falls on, relative to
// startDate.
func dayCountFor(startDate, target time.Time) int {
	return DaysTogether(startDate, target)
}

// NextMilestone returns the nearest milestone strictly after currentDays.
// Candidates are the fixed small and big sets plus each custom event's
// projected day-count; recurring events are projected onto the current
// and following calendar year. Events with unparseable dates are skipped.
// When no candidate remains the engine falls back to an open-ended
// "Infinity" milestone 100 days out.
func NextMilestone(currentDays int, startDate time.Time, events []models.CustomEvent, tb TieBreak) models.Milestone {
	var candidates []models.Milestone

	for _, day := range smallMilestones {
		if day > currentDays {
			candidates = append(candidates, models.Milestone{
				Day:         day,
				Title:       fmt.Sprintf("%d Days", day),
				Description: "Small steps, beautiful journey.",
				Type:        models.MilestoneSmall,
			})
		}
	}

	for _, day := range bigMilestones {
		if day > currentDays {
			candidates = append(candidates, bigFor(day))
		}
	}

	today := Midnight(startDate).AddDate(0, 0, currentDays)
	for _, ev := range events {
		date, err := models.ParseDate(ev.Date)
		if err != nil {
			continue
		}
		occurrences := []time.Time{date}
		if ev.IsRecurring {
			occurrences = []time.Time{
				projectYear(date, today.Year()),
				projectYear(date, today.Year()+1),
			}
		}
		for _, occ := range occurrences {
			day := dayCountFor(startDate, occ)
			if day <= currentDays {
				continue
			}
			candidates = append(candidates, models.Milestone{
				Day:         day,
				Title:       ev.Title,
				Description: "A special day just for us.",
				Type:        models.MilestoneCustom,
				Date:        occ.Format(models.DateLayout),
				EventType:   ev.Type,
			})
		}
	}

	if len(candidates) == 0 {
		return models.Milestone{
			Day:         currentDays + 100,
			Title:       "Infinity",
			Description: "To the moon and back.",
			Type:        models.MilestoneSmall,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if tb == PreferCustom {
			return a.Type == models.MilestoneCustom && b.Type != models.MilestoneCustom
		}
		return a.Type != models.MilestoneCustom && b.Type == models.MilestoneCustom
	})
	return candidates[0]
}

func bigFor(day int) models.Milestone {
	m := models.Milestone{
		Day:         day,
		Title:       fmt.Sprintf("%d Days", day),
		Description: "A monumental moment.",
		Type:        models.MilestoneBig,
	}
	switch day {
	case 365:
		m.Title = "1 Year"
		m.Description = "365 days of love."
	case 730:
		m.Title = "2 Years"
		m.Description = "Two years strong."
	case 1000:
		m.Title = "1000 Days"
		m.Description = "A legend being written."
	}
	return m
}

// IsBigMilestone reports whether day belongs to the big milestone set.
func IsBigMilestone(day int) bool {
	for _, d := range bigMilestones {
		if d == day {
			return true
		}
	}
	return false
}

// TodayCustomEvent returns the first event whose normalized date equals
// today. Recurring events match on month and day in any year.
func TodayCustomEvent(events []models.CustomEvent, today time.Time) (models.CustomEvent, bool) {
	day := Midnight(today)
	for _, ev := range events {
		date, err := models.ParseDate(ev.Date)
		if err != nil {
			continue
		}
		if ev.IsRecurring {
			date = projectYear(date, day.Year())
		}
		if Midnight(date).Equal(day) {
			return ev, true
		}
	}
	return models.CustomEvent{}, false
}

// Upcoming is a custom event projected onto its next occurrence.
type Upcoming struct {
	Event          models.CustomEvent
	NextOccurrence time.Time
	DaysUntil      int
}

// UpcomingEvents returns events falling within windowDays of today,
// recurring ones shifted to their next occurrence, sorted soonest first.
func UpcomingEvents(events []models.CustomEvent, today time.Time, windowDays int) []Upcoming {
	day := Midnight(today)
	var out []Upcoming
	for _, ev := range events {
		date, err := models.ParseDate(ev.Date)
		if err != nil {
			continue
		}
		occ := Midnight(date)
		if ev.IsRecurring {
			occ = projectYear(occ, day.Year())
			if occ.Before(day) {
				occ = projectYear(occ, day.Year()+1)
			}
		}
		until := DaysTogether(day, occ)
		if until < 0 || until > windowDays {
			continue
		}
		out = append(out, Upcoming{Event: ev, NextOccurrence: occ, DaysUntil: until})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextOccurrence.Before(out[j].NextOccurrence)
	})
	return out
}

// projectYear moves a date to the given year, keeping month and day.
// Feb 29 lands on Mar 1 in non-leap years, matching time.Date overflow.
func projectYear(t time.Time, year int) time.Time {
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
