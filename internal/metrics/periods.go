package metrics

import (
	"fmt"
	"strings"
	"time"
)

// Granularity selects the calendar bucketing for metric periods
type Granularity string

const (
	Daily     Granularity = "daily"
	Weekly    Granularity = "weekly"
	Monthly   Granularity = "monthly"
	Quarterly Granularity = "quarterly"
	Yearly    Granularity = "yearly"
)

// ParseGranularity validates a granularity string from config or flags
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity %q (daily, weekly, monthly, quarterly, yearly)", s)
	}
}

// ParseWeekStart validates a week-start day from config or flags
func ParseWeekStart(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monday":
		return time.Monday, nil
	case "sunday":
		return time.Sunday, nil
	default:
		return time.Monday, fmt.Errorf("unknown week start %q (Monday or Sunday)", s)
	}
}

// Period is one calendar bucket: [Start, End) in UTC
type Period struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the period length in days
func (p Period) Days() float64 {
	return p.End.Sub(p.Start).Hours() / 24
}

// Contains reports whether t falls inside the period
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// periodStart returns the start of the period containing t
func periodStart(t time.Time, g Granularity, weekStart time.Weekday) time.Time {
	t = t.UTC()
	y, m, d := t.Date()

	switch g {
	case Daily:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case Weekly:
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		back := (int(day.Weekday()) - int(weekStart) + 7) % 7
		return day.AddDate(0, 0, -back)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case Quarterly:
		qm := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, time.UTC)
	case Yearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

// nextStart returns the start of the period following start
func nextStart(start time.Time, g Granularity) time.Time {
	switch g {
	case Daily:
		return start.AddDate(0, 0, 1)
	case Weekly:
		return start.AddDate(0, 0, 7)
	case Monthly:
		return start.AddDate(0, 1, 0)
	case Quarterly:
		return start.AddDate(0, 3, 0)
	case Yearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// periodLabel renders a stable human label for a period start
func periodLabel(start time.Time, g Granularity) string {
	switch g {
	case Daily, Weekly:
		return start.Format("2006-01-02")
	case Monthly:
		return start.Format("2006-01")
	case Quarterly:
		return fmt.Sprintf("%d-Q%d", start.Year(), (int(start.Month())-1)/3+1)
	case Yearly:
		return start.Format("2006")
	default:
		return start.Format("2006-01-02")
	}
}

// periodsSpanning builds the contiguous period sequence covering [first, last]
func periodsSpanning(first, last time.Time, g Granularity, weekStart time.Weekday) []Period {
	if last.Before(first) {
		first, last = last, first
	}

	var periods []Period
	start := periodStart(first, g, weekStart)
	for !start.After(last) {
		end := nextStart(start, g)
		periods = append(periods, Period{
			Label: periodLabel(start, g),
			Start: start,
			End:   end,
		})
		start = end
	}
	return periods
}
