// Package recurrence implements the Recurrence Evaluator (spec.md §4.D):
// given a zone's period spec and a candidate date, decide whether the zone
// fires on that date.
package recurrence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Period is the recurrence kind for a schedule entry.
type Period int

const (
	Daily Period = iota
	Weekly
	Monthly
	// Cron is a supplemented recurrence kind beyond spec.md's Daily/Weekly/
	// Monthly (see SPEC_FULL.md §11, Domain Stack): arbitrary cron-style
	// recurrence via a standard 5-field cron expression, for operators who
	// want more than weekday/day-of-month recurrence. Daily/Weekly/Monthly
	// behave exactly as spec.md §4.D specifies regardless of whether Cron
	// is ever used.
	Cron
)

func (p Period) String() string {
	switch p {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Cron:
		return "cron"
	default:
		return "unknown"
	}
}

// Entry is a zone's period spec (spec.md §3 Schedule Entry, minus the
// Times/Duration fields which belong to the schedule document, not the
// recurrence decision).
type Entry struct {
	Period Period
	Cycles int // cycles-per-period; does not affect which days fire (spec.md §4.D)

	// Anchor is the civil date weekly/monthly recurrence is measured
	// from. Ignored for Daily and Cron.
	Anchor time.Time

	// CronExpr is a standard 5-field cron expression, required when
	// Period == Cron and ignored otherwise.
	CronExpr string
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Evaluate decides whether e fires on today's civil date. today's
// year/month/day (in whatever location it carries) are what matters; the
// time-of-day component is ignored.
func Evaluate(e Entry, today time.Time) (bool, error) {
	switch e.Period {
	case Daily:
		return true, nil

	case Weekly:
		return today.Weekday() == e.Anchor.Weekday(), nil

	case Monthly:
		// Resolved open question (SPEC_FULL.md §12): a month shorter than
		// the anchor day-of-month simply never fires — matching the
		// original source's behaviour.
		return today.Day() == e.Anchor.Day(), nil

	case Cron:
		return evaluateCron(e.CronExpr, today)

	default:
		return false, fmt.Errorf("unknown recurrence period %v", e.Period)
	}
}

// evaluateCron reports whether the cron schedule has any activation within
// today's civil day.
func evaluateCron(expr string, today time.Time) (bool, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	next := schedule.Next(dayStart.Add(-time.Nanosecond))
	return !next.IsZero() && next.Before(dayEnd), nil
}
