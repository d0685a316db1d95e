// Package schedule – recurring pattern advancement.
//
// This file converts a condition's RecurringPattern into an RFC 5545 RRULE
// and computes the next occurrence strictly after a given instant. The rrule
// iteration is bounded so a pathological pattern can never spin forever.
package schedule

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// advanceBound caps the number of occurrences examined when searching for the
// next strictly-future one.
const advanceBound = 1000

// NextOccurrence returns the first occurrence of the pattern strictly after
// the given instant, seeded from the prior trigger date. It returns an error
// for malformed patterns and when the rule yields no further occurrences.
func NextOccurrence(p domain.RecurringPattern, prior, after time.Time) (time.Time, error) {
	if err := validatePattern(p); err != nil {
		return time.Time{}, err
	}

	opt := rrule.ROption{
		Freq:     freqOf(p.Type),
		Interval: p.Interval,
		Dtstart:  seedTime(p, prior),
	}
	switch p.Type {
	case domain.RecurWeekly:
		if p.Day > 0 || p.StartTime != "" {
			opt.Byweekday = []rrule.Weekday{weekdayOf(p.Day)}
		}
	case domain.RecurMonthly:
		if p.Day > 0 {
			opt.Bymonthday = []int{p.Day}
		}
	case domain.RecurYearly:
		if p.Month > 0 {
			opt.Bymonth = []int{p.Month}
		}
		if p.Day > 0 {
			opt.Bymonthday = []int{p.Day}
		}
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBadPattern, err)
	}

	// rule.After with inc=false is "on or after the next step"; advance in a
	// bounded loop until strictly after the requested instant.
	cur := after
	for i := 0; i < advanceBound; i++ {
		next := rule.After(cur, false)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: no further occurrences", ErrBadPattern)
		}
		if next.After(after) {
			return next, nil
		}
		cur = next.Add(time.Second)
	}
	return time.Time{}, fmt.Errorf("%w: occurrence search exceeded bound", ErrBadPattern)
}

// seedTime anchors the recurrence at the prior trigger date, overriding the
// wall-clock time when the pattern carries an explicit StartTime.
func seedTime(p domain.RecurringPattern, prior time.Time) time.Time {
	if p.StartTime == "" {
		return prior
	}
	hm, err := time.Parse("15:04", p.StartTime)
	if err != nil {
		return prior
	}
	return time.Date(prior.Year(), prior.Month(), prior.Day(),
		hm.Hour(), hm.Minute(), 0, 0, prior.Location())
}

func freqOf(t domain.RecurrenceType) rrule.Frequency {
	switch t {
	case domain.RecurDaily:
		return rrule.DAILY
	case domain.RecurWeekly:
		return rrule.WEEKLY
	case domain.RecurMonthly:
		return rrule.MONTHLY
	default:
		return rrule.YEARLY
	}
}

// weekdayOf maps the stored weekday (0 = Sunday, matching time.Weekday) to
// the rrule weekday constants (which start at Monday).
func weekdayOf(day int) rrule.Weekday {
	switch time.Weekday(day % 7) {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}
