package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

func TestNextOccurrence_Daily(t *testing.T) {
	prior := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	after := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

	next, err := NextOccurrence(domain.RecurringPattern{
		Type: domain.RecurDaily, Interval: 1,
	}, prior, after)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	if want := time.Date(2026, 8, 4, 9, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrence_StrictlyAfter(t *testing.T) {
	prior := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	// after lands exactly on an occurrence; the result must be the one after it.
	after := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)

	next, err := NextOccurrence(domain.RecurringPattern{
		Type: domain.RecurDaily, Interval: 1,
	}, prior, after)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	if !next.After(after) {
		t.Fatalf("next = %v, not strictly after %v", next, after)
	}
}

func TestNextOccurrence_MonthlyDaySnap(t *testing.T) {
	prior := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	after := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	next, err := NextOccurrence(domain.RecurringPattern{
		Type: domain.RecurMonthly, Interval: 1, Day: 15,
	}, prior, after)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	if next.Day() != 15 || !next.After(after) {
		t.Fatalf("next = %v, want the 15th after %v", next, after)
	}
}

func TestNextOccurrence_StartTimeOverride(t *testing.T) {
	prior := time.Date(2026, 8, 1, 23, 45, 0, 0, time.UTC)
	after := prior

	next, err := NextOccurrence(domain.RecurringPattern{
		Type: domain.RecurDaily, Interval: 1, StartTime: "08:30",
	}, prior, after)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	if next.Hour() != 8 || next.Minute() != 30 {
		t.Fatalf("next = %v, want 08:30 wall clock", next)
	}
}

func TestNextOccurrence_BadPattern(t *testing.T) {
	_, err := NextOccurrence(domain.RecurringPattern{
		Type: domain.RecurrenceType("fortnightly"), Interval: 1,
	}, time.Now(), time.Now())
	if !errors.Is(err, ErrBadPattern) {
		t.Fatalf("error = %v, want ErrBadPattern", err)
	}
}

func TestNextOccurrence_YearlySnap(t *testing.T) {
	prior := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	after := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	next, err := NextOccurrence(domain.RecurringPattern{
		Type: domain.RecurYearly, Interval: 1, Month: 3, Day: 10,
	}, prior, after)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want := time.Date(2027, 3, 10, 10, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}
