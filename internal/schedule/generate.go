// Package schedule – reminder schedule generation.
//
// Given a deadline and the configured reminder offsets, Generate produces the
// full set of planned notifications that should exist for a condition right
// now. The reconciler diffs this desired set against persisted rows.
package schedule

import (
	"time"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// criticalWindow is the distance from the deadline below which a reminder is
// delivered with critical priority.
const criticalWindow = 60 * time.Minute

// PlannedEntry is one desired notification produced by Generate. It carries
// only scheduling facts; the reconciler attaches identity and persistence
// state when materializing it as a row.
type PlannedEntry struct {
	ScheduledAt   time.Time
	OffsetMinutes int
	ReminderType  domain.ReminderType
	Priority      domain.Priority
}

// Generate computes the desired schedule for a deadline.
//
// Rules:
//   - Offsets are processed furthest-from-deadline first (the stored order).
//   - Entries whose scheduled time is not strictly in the future are skipped;
//     past reminders are never rescheduled.
//   - Duplicate offsets collapse to a single entry.
//   - Exactly one final_delivery entry is always emitted at the deadline
//     itself, even when it is already due and even when offsets is empty.
//   - Priority is critical for the final delivery and for any reminder less
//     than an hour before the deadline.
//
// The result is ordered by scheduled time ascending, final delivery last.
func Generate(deadline time.Time, offsets domain.ReminderOffsets, now time.Time) []PlannedEntry {
	out := make([]PlannedEntry, 0, len(offsets)+1)
	seen := make(map[int64]struct{}, len(offsets))

	for _, m := range offsets {
		if m <= 0 {
			// Offset 0 would duplicate the final delivery slot.
			continue
		}
		at := deadline.Add(-time.Duration(m) * time.Minute)
		if !at.After(now) {
			continue
		}
		key := at.UnixMilli()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		prio := domain.PriorityNormal
		if time.Duration(m)*time.Minute < criticalWindow {
			prio = domain.PriorityCritical
		}
		out = append(out, PlannedEntry{
			ScheduledAt:   at,
			OffsetMinutes: m,
			ReminderType:  domain.ReminderTypeReminder,
			Priority:      prio,
		})
	}

	// Offsets are stored descending, so the loop above already produced
	// ascending scheduled times. The final delivery closes the schedule.
	out = append(out, PlannedEntry{
		ScheduledAt:   deadline,
		OffsetMinutes: 0,
		ReminderType:  domain.ReminderTypeFinal,
		Priority:      domain.PriorityCritical,
	})
	return out
}
