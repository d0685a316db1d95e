// Package services – Reconciler
//
// This file implements the schedule reconciler: the single component allowed
// to insert or cancel reminder schedule entries. Every call site that used to
// recompute reminders independently (arm, check-in, config edits, the stuck
// sweep) is a thin client of Reconcile.
//
// Concurrency: reconciliations for the same condition are serialized by a
// per-condition mutex, and each run re-reads the condition and bumps its
// schedule version inside the transaction. A run that loses the version race
// rolls back without writing, so a stale deadline can never resurrect
// cancelled entries or duplicate pending ones.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-deadman-backend/internal/domain"
	"github.com/tbourn/go-deadman-backend/internal/events"
	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/schedule"
)

// matchTolerance is how close two scheduled times must be for an existing
// entry to satisfy a desired one. Sub-second drift between generator runs
// (clock skew, float rounding upstream) must not churn the schedule.
const matchTolerance = 2 * time.Second

// Reconciler makes persisted schedule entries match the desired schedule
// computed from a condition's current configuration. It is safe for
// concurrent use.
type Reconciler struct {
	DB  *gorm.DB
	Bus *events.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler constructs a Reconciler publishing change events on bus.
func NewReconciler(db *gorm.DB, bus *events.Bus) *Reconciler {
	return &Reconciler{DB: db, Bus: bus, locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the per-condition mutex, creating it on first use. Lock
// entries are never removed; the map is bounded by the number of conditions
// this process has touched.
func (r *Reconciler) lockFor(conditionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[conditionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[conditionID] = l
	}
	return l
}

// Reconcile recomputes the desired schedule for the condition and applies the
// diff: desired entries with no pending/sent counterpart are inserted, and
// pending entries no longer desired are cancelled. Running it twice with
// unchanged inputs performs zero writes on the second run.
//
// A disarmed condition reconciles against an empty desired set, which cancels
// everything pending; disarm reuses this path.
func (r *Reconciler) Reconcile(ctx context.Context, conditionID string, now time.Time) (inserted, cancelled int, err error) {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "Reconcile",
		trace.WithAttributes(attribute.String("condition.id", conditionID)),
	)
	defer span.End()

	l := r.lockFor(conditionID)
	l.Lock()
	defer l.Unlock()

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cond, gerr := repo.GetCondition(ctx, tx, conditionID)
		if gerr != nil {
			if errors.Is(gerr, repo.ErrNotFound) {
				return ErrConditionNotFound
			}
			return gerr
		}

		var desired []schedule.PlannedEntry
		if deadline, ok := schedule.Deadline(cond, now); ok {
			desired = schedule.Generate(deadline, cond.ReminderMinutes, now)
		}

		existing, lerr := repo.ListEntriesByStatus(ctx, tx, conditionID,
			domain.EntryPending, domain.EntrySent)
		if lerr != nil {
			return lerr
		}

		toInsert, toCancel := diff(cond, desired, existing)
		if len(toInsert) == 0 && len(toCancel) == 0 {
			return nil
		}

		// Claim the schedule version before writing; losing the race means a
		// newer reconciliation already committed and this diff is stale.
		if _, verr := repo.BumpScheduleVersion(ctx, tx, conditionID, cond.ScheduleVersion); verr != nil {
			if errors.Is(verr, repo.ErrStaleSchedule) {
				return repo.ErrStaleSchedule
			}
			return verr
		}

		n, cerr := repo.CancelEntries(ctx, tx, toCancel)
		if cerr != nil {
			return cerr
		}
		cancelled = int(n)
		if ierr := repo.InsertEntries(ctx, tx, toInsert); ierr != nil {
			return ierr
		}
		inserted = len(toInsert)
		return nil
	})
	if errors.Is(err, repo.ErrStaleSchedule) {
		// Last write wins; the newer schedule is already in place.
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	if r.Bus != nil && (inserted > 0 || cancelled > 0) {
		r.Bus.Publish(events.Event{Action: events.ActionUpdate, ConditionID: conditionID})
	}
	return inserted, cancelled, nil
}

// diff computes the entry rows to insert and the pending entry ids to cancel.
// Matching is by (reminderType, scheduledAt) within matchTolerance; both sides
// are already in deterministic scheduled-time order.
func diff(cond *domain.Condition, desired []schedule.PlannedEntry, existing []domain.ReminderScheduleEntry) ([]domain.ReminderScheduleEntry, []string) {
	matched := make([]bool, len(existing))

	var toInsert []domain.ReminderScheduleEntry
	for _, want := range desired {
		found := false
		for i, have := range existing {
			if matched[i] || have.ReminderType != want.ReminderType {
				continue
			}
			if absDuration(have.ScheduledAt.Sub(want.ScheduledAt)) <= matchTolerance {
				matched[i] = true
				found = true
				break
			}
		}
		if !found {
			toInsert = append(toInsert, domain.ReminderScheduleEntry{
				ConditionID:   cond.ID,
				MessageID:     cond.MessageID,
				ScheduledAt:   want.ScheduledAt,
				OffsetMinutes: want.OffsetMinutes,
				ReminderType:  want.ReminderType,
				Priority:      want.Priority,
				Status:        domain.EntryPending,
			})
		}
	}

	var toCancel []string
	for i, have := range existing {
		// Sent entries are history; only unmatched pendings get cancelled.
		if !matched[i] && have.Status == domain.EntryPending {
			toCancel = append(toCancel, have.ID)
		}
	}
	return toInsert, toCancel
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
