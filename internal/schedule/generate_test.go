package schedule

import (
	"testing"
	"time"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

func offsets(t *testing.T, raw ...int) domain.ReminderOffsets {
	t.Helper()
	o, err := domain.NewReminderOffsets(raw)
	if err != nil {
		t.Fatalf("offsets: %v", err)
	}
	return o
}

func finalEntries(entries []PlannedEntry) []PlannedEntry {
	var out []PlannedEntry
	for _, e := range entries {
		if e.ReminderType == domain.ReminderTypeFinal {
			out = append(out, e)
		}
	}
	return out
}

// A 24h condition armed at T0 with offsets [1440,360,60,15]: the 1440-minute
// reminder lands exactly at T0 and is skipped; the rest plus the final
// delivery survive.
func TestGenerate_ArmAtT0(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	deadline := t0.Add(24 * time.Hour)

	entries := Generate(deadline, offsets(t, 1440, 360, 60, 15), t0)

	want := []struct {
		at   time.Time
		typ  domain.ReminderType
		prio domain.Priority
	}{
		{t0.Add(18 * time.Hour), domain.ReminderTypeReminder, domain.PriorityNormal},
		{t0.Add(23 * time.Hour), domain.ReminderTypeReminder, domain.PriorityNormal},
		{t0.Add(23*time.Hour + 45*time.Minute), domain.ReminderTypeReminder, domain.PriorityCritical},
		{deadline, domain.ReminderTypeFinal, domain.PriorityCritical},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i, w := range want {
		e := entries[i]
		if !e.ScheduledAt.Equal(w.at) || e.ReminderType != w.typ || e.Priority != w.prio {
			t.Fatalf("entry %d = %+v, want at=%v type=%s prio=%s", i, e, w.at, w.typ, w.prio)
		}
	}
}

// Exactly one final_delivery at the deadline, always.
func TestGenerate_SingleFinalDelivery(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, offs := range [][]int{nil, {60}, {1440, 360, 60, 15}, {15, 15, 15}} {
		entries := Generate(now.Add(time.Hour), offsets(t, offs...), now)
		finals := finalEntries(entries)
		if len(finals) != 1 {
			t.Fatalf("offsets %v: got %d final entries, want 1", offs, len(finals))
		}
		if !finals[0].ScheduledAt.Equal(now.Add(time.Hour)) {
			t.Fatalf("offsets %v: final at %v, want deadline", offs, finals[0].ScheduledAt)
		}
	}
}

// No generated reminder may be at or before now.
func TestGenerate_NoPastReminders(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(30 * time.Minute)

	entries := Generate(deadline, offsets(t, 1440, 360, 60, 45, 30, 15), now)
	for _, e := range entries {
		if e.ReminderType == domain.ReminderTypeFinal {
			continue
		}
		if !e.ScheduledAt.After(now) {
			t.Fatalf("reminder at %v is not in the future (now %v)", e.ScheduledAt, now)
		}
	}
	// Only the 15-minute reminder fits into the half-hour window.
	if got := len(entries); got != 2 {
		t.Fatalf("got %d entries, want reminder@15min + final", got)
	}
}

func TestGenerate_EmptyOffsets(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := Generate(now.Add(time.Hour), nil, now)
	if len(entries) != 1 || entries[0].ReminderType != domain.ReminderTypeFinal {
		t.Fatalf("empty offsets must yield the final delivery only, got %+v", entries)
	}
}

func TestGenerate_DuplicateOffsetsCollapse(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// NewReminderOffsets dedupes; feed raw duplicates through Generate too.
	raw := domain.ReminderOffsets{30, 30, 30}
	entries := Generate(now.Add(time.Hour), raw, now)
	if len(entries) != 2 {
		t.Fatalf("duplicates must collapse, got %+v", entries)
	}
}

func TestGenerate_CriticalWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)
	entries := Generate(deadline, offsets(t, 120, 60, 59, 15), now)

	wantPrio := map[int]domain.Priority{
		120: domain.PriorityNormal,
		60:  domain.PriorityNormal, // exactly 60 is outside the critical window
		59:  domain.PriorityCritical,
		15:  domain.PriorityCritical,
		0:   domain.PriorityCritical, // final delivery
	}
	for _, e := range entries {
		if want := wantPrio[e.OffsetMinutes]; e.Priority != want {
			t.Fatalf("offset %d: priority %s, want %s", e.OffsetMinutes, e.Priority, want)
		}
	}
}

// Final delivery is emitted even when the deadline has already passed; the
// dispatcher still owes the message.
func TestGenerate_OverdueDeadlineKeepsFinal(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := Generate(now.Add(-time.Hour), offsets(t, 60, 15), now)
	if len(entries) != 1 || entries[0].ReminderType != domain.ReminderTypeFinal {
		t.Fatalf("overdue deadline should yield only the final delivery, got %+v", entries)
	}
}
