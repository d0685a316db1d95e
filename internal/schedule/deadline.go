// Package schedule implements the pure computational core of the scheduling
// engine: deadline calculation, recurring-pattern advancement, and reminder
// schedule generation. Nothing in this package touches the clock, the
// database, or the network: every function is a pure function of its inputs
// so the whole engine is testable with fixed timestamps.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// Configuration errors surfaced synchronously at arm time. The condition must
// not be armed when Validate returns one of these.
var (
	// ErrMissingThreshold is returned when a check-in based condition has a
	// zero threshold window.
	ErrMissingThreshold = errors.New("check-in condition requires a positive threshold")

	// ErrMissingTriggerDate is returned when a schedule based condition has no
	// trigger date configured.
	ErrMissingTriggerDate = errors.New("scheduled condition requires a trigger date")

	// ErrMissingLastChecked is returned when a check-in based condition has
	// never been checked in or armed.
	ErrMissingLastChecked = errors.New("check-in condition requires a last-checked timestamp")

	// ErrBadPattern is returned for malformed recurring patterns.
	ErrBadPattern = errors.New("malformed recurring pattern")

	// ErrUnknownConditionType is returned for condition types outside the
	// supported set.
	ErrUnknownConditionType = errors.New("unknown condition type")
)

// Validate checks a condition's trigger configuration. It is called at arm
// time so misconfiguration is rejected before any schedule rows exist.
func Validate(cond *domain.Condition) error {
	switch {
	case !cond.ConditionType.Valid():
		return fmt.Errorf("%w: %q", ErrUnknownConditionType, cond.ConditionType)
	case cond.ConditionType.CheckInBased() && cond.ThresholdMinutes <= 0:
		return ErrMissingThreshold
	case cond.ConditionType.ScheduleBased() && cond.TriggerDate == nil:
		return ErrMissingTriggerDate
	}
	if cond.ConditionType == domain.ConditionRecurring {
		if err := validatePattern(cond.Pattern); err != nil {
			return err
		}
	}
	return nil
}

func validatePattern(p domain.RecurringPattern) error {
	switch p.Type {
	case domain.RecurDaily, domain.RecurWeekly, domain.RecurMonthly, domain.RecurYearly:
	default:
		return fmt.Errorf("%w: type %q", ErrBadPattern, p.Type)
	}
	if p.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1", ErrBadPattern)
	}
	switch p.Type {
	case domain.RecurWeekly:
		if p.Day < 0 || p.Day > 6 {
			return fmt.Errorf("%w: weekday must be 0-6", ErrBadPattern)
		}
	case domain.RecurMonthly, domain.RecurYearly:
		if p.Day < 0 || p.Day > 31 {
			return fmt.Errorf("%w: day of month must be 1-31", ErrBadPattern)
		}
	}
	if p.Month < 0 || p.Month > 12 {
		return fmt.Errorf("%w: month must be 1-12", ErrBadPattern)
	}
	if p.StartTime != "" {
		if _, err := time.Parse("15:04", p.StartTime); err != nil {
			return fmt.Errorf("%w: start_time must be HH:MM", ErrBadPattern)
		}
	}
	return nil
}

// Deadline computes the absolute timestamp at which the condition's message
// becomes due, given the supplied now. The second return value is false when
// no deadline exists: the condition is disarmed, or its configuration does
// not yield one.
//
// Semantics per condition type:
//   - schedule based (scheduled, recurring): the configured trigger date.
//     Advancing a lapsed recurring trigger date is the caller's job (see
//     NextOccurrence); Deadline reports whatever is currently configured.
//   - check-in based (no_check_in, regular_check_in, inactivity_to_date):
//     last check-in plus the threshold window.
//   - panic_trigger: due immediately; the deadline is now.
//
// Deadline never reads the real clock; identical inputs yield identical
// output.
func Deadline(cond *domain.Condition, now time.Time) (time.Time, bool) {
	if !cond.Active {
		return time.Time{}, false
	}
	switch {
	case cond.ConditionType.ScheduleBased():
		if cond.TriggerDate == nil {
			return time.Time{}, false
		}
		return *cond.TriggerDate, true
	case cond.ConditionType.CheckInBased():
		if cond.LastChecked == nil || cond.ThresholdMinutes <= 0 {
			return time.Time{}, false
		}
		return cond.LastChecked.Add(time.Duration(cond.ThresholdMinutes) * time.Minute), true
	case cond.ConditionType == domain.ConditionPanicTrigger:
		return now, true
	}
	return time.Time{}, false
}
