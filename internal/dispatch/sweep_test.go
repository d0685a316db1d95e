package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-deadman-backend/internal/domain"
	"github.com/tbourn/go-deadman-backend/internal/events"
	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/services"
)

func newSweepFixture(t *testing.T) (*fixture, *Sweeper) {
	t.Helper()
	f := newFixture(t)
	sw := NewSweeper(f.db, services.NewReconciler(f.db, events.NewBus()), f.disp)
	sw.Now = func() time.Time { return f.now }
	return f, sw
}

func TestSweep_NoStuckConditions(t *testing.T) {
	f, sw := newSweepFixture(t)
	cond := f.seedArmed(t, nil)
	// A pending entry inside the grace window is not stuck.
	f.insertEntry(t, cond, domain.ReminderScheduleEntry{
		ScheduledAt:   f.now.Add(-time.Minute),
		OffsetMinutes: 30,
		ReminderType:  domain.ReminderTypeReminder,
	})

	n, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("recovered = %d, want 0", n)
	}
}

func TestSweep_ReconcilesOverdueCondition(t *testing.T) {
	f, sw := newSweepFixture(t)
	cond := f.seedArmed(t, nil)
	// An entry overdue beyond the grace window marks the condition stuck. Its
	// scheduled time no longer matches the desired schedule, so the reconcile
	// replaces it.
	stale := f.insertEntry(t, cond, domain.ReminderScheduleEntry{
		ScheduledAt:   f.now.Add(-DefaultStuckGrace - time.Hour),
		OffsetMinutes: 30,
		ReminderType:  domain.ReminderTypeReminder,
	})

	n, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	if got := f.reload(t, stale.ID); got.Status != domain.EntryCancelled {
		t.Errorf("stale entry status = %s, want cancelled", got.Status)
	}
	pending, err := repo.ListEntriesByStatus(context.Background(), f.db, cond.ID, domain.EntryPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	finals := 0
	for _, e := range pending {
		if e.ReminderType == domain.ReminderTypeFinal {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected a regenerated final delivery, got %d", finals)
	}
}

func TestSweep_PicksUpFailedFinalDelivery(t *testing.T) {
	f, sw := newSweepFixture(t)
	cond := f.seedArmed(t, nil)
	failed := f.insertEntry(t, cond, domain.ReminderScheduleEntry{
		ScheduledAt:  f.now.Add(-time.Minute),
		ReminderType: domain.ReminderTypeFinal,
		Priority:     domain.PriorityCritical,
		Status:       domain.EntryFailed,
	})

	n, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	// The failed row is terminal audit history; the reconcile plants a fresh
	// pending final at the deadline.
	if got := f.reload(t, failed.ID); got.Status != domain.EntryFailed {
		t.Errorf("failed entry mutated to %s", got.Status)
	}
	pending, err := repo.ListEntriesByStatus(context.Background(), f.db, cond.ID, domain.EntryPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	hasFinal := false
	for _, e := range pending {
		if e.ReminderType == domain.ReminderTypeFinal {
			hasFinal = true
		}
	}
	if !hasFinal {
		t.Fatal("no fresh pending final after sweeping a failed final")
	}
}
