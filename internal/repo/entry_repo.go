// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ReminderScheduleEntry model, the schedule store adapter consumed by the
// reconciler and the dispatch loop.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// InsertEntries inserts a batch of schedule entries. IDs are assigned for any
// entry that lacks one. A nil or empty batch is a no-op.
func InsertEntries(ctx context.Context, db *gorm.DB, entries []domain.ReminderScheduleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		entries[i].CreatedAt = now
	}
	return db.WithContext(ctx).Create(&entries).Error
}

// ListPendingEntries returns all pending entries for a condition ordered by
// scheduled time ascending, the deterministic order the reconciler diffs in.
func ListPendingEntries(ctx context.Context, db *gorm.DB, conditionID string) ([]domain.ReminderScheduleEntry, error) {
	var out []domain.ReminderScheduleEntry
	err := db.WithContext(ctx).
		Where("condition_id = ? AND status = ?", conditionID, domain.EntryPending).
		Order("scheduled_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListEntriesByStatus returns a condition's entries filtered to the given
// statuses, ordered by scheduled time.
func ListEntriesByStatus(ctx context.Context, db *gorm.DB, conditionID string, statuses ...domain.EntryStatus) ([]domain.ReminderScheduleEntry, error) {
	var out []domain.ReminderScheduleEntry
	err := db.WithContext(ctx).
		Where("condition_id = ? AND status IN ?", conditionID, statuses).
		Order("scheduled_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListEntryHistory returns every entry ever created for a condition, newest
// first. Entries are never deleted, so this is the audit trail.
func ListEntryHistory(ctx context.Context, db *gorm.DB, conditionID string, offset, limit int) ([]domain.ReminderScheduleEntry, error) {
	var out []domain.ReminderScheduleEntry
	q := db.WithContext(ctx).
		Where("condition_id = ?", conditionID).
		Order("created_at DESC, id DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListDuePending returns pending entries across all conditions whose
// scheduled time has arrived, ordered so critical entries are attempted first
// within the batch.
func ListDuePending(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.ReminderScheduleEntry, error) {
	var out []domain.ReminderScheduleEntry
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.EntryPending, now).
		// "critical" sorts before "normal", so ascending is critical-first.
		Order("priority ASC, scheduled_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListDuePendingForCondition is ListDuePending scoped to one condition; used
// by the force-process remediation path.
func ListDuePendingForCondition(ctx context.Context, db *gorm.DB, conditionID string, now time.Time) ([]domain.ReminderScheduleEntry, error) {
	var out []domain.ReminderScheduleEntry
	err := db.WithContext(ctx).
		Where("condition_id = ? AND status = ? AND scheduled_at <= ?", conditionID, domain.EntryPending, now).
		Order("scheduled_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// MarkEntrySent transitions a pending entry to sent. The status guard in the
// WHERE clause makes the transition race-safe: a concurrently cancelled entry
// yields zero affected rows and ErrNotFound.
func MarkEntrySent(ctx context.Context, db *gorm.DB, entryID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.ReminderScheduleEntry{}).
		Where("id = ? AND status = ?", entryID, domain.EntryPending).
		Updates(map[string]any{"status": domain.EntrySent, "sent_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEntryRetry records a failed attempt on a still-pending entry: bumps the
// retry counter, stores the error, and pushes the scheduled time forward by
// the backoff delta.
func MarkEntryRetry(ctx context.Context, db *gorm.DB, entryID string, nextAttempt time.Time, lastErr string) error {
	res := db.WithContext(ctx).
		Model(&domain.ReminderScheduleEntry{}).
		Where("id = ? AND status = ?", entryID, domain.EntryPending).
		Updates(map[string]any{
			"retry_count":  gorm.Expr("retry_count + 1"),
			"scheduled_at": nextAttempt,
			"last_error":   lastErr,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEntryFailed transitions a pending entry to failed after its retry
// budget is exhausted.
func MarkEntryFailed(ctx context.Context, db *gorm.DB, entryID string, lastErr string) error {
	res := db.WithContext(ctx).
		Model(&domain.ReminderScheduleEntry{}).
		Where("id = ? AND status = ?", entryID, domain.EntryPending).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"status":      domain.EntryFailed,
			"last_error":  lastErr,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelEntries transitions the given pending entries to cancelled, returning
// how many rows changed. Already-terminal entries are left untouched.
func CancelEntries(ctx context.Context, db *gorm.DB, entryIDs []string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.ReminderScheduleEntry{}).
		Where("id IN ? AND status = ?", entryIDs, domain.EntryPending).
		Update("status", domain.EntryCancelled)
	return res.RowsAffected, res.Error
}

// CancelPendingForCondition cancels every pending entry of a condition in one
// statement; this is the disarm path, executed inside the disarm transaction.
func CancelPendingForCondition(ctx context.Context, db *gorm.DB, conditionID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ReminderScheduleEntry{}).
		Where("condition_id = ? AND status = ?", conditionID, domain.EntryPending).
		Update("status", domain.EntryCancelled)
	return res.RowsAffected, res.Error
}

// ListStuckConditionIDs returns the ids of conditions with anomalous
// schedules: a pending entry overdue by more than grace, or a failed final
// delivery. These are the reconciliation targets of the self-healing sweep.
func ListStuckConditionIDs(ctx context.Context, db *gorm.DB, now time.Time, grace time.Duration) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.ReminderScheduleEntry{}).
		Distinct("condition_id").
		Where(
			db.Where("status = ? AND scheduled_at < ?", domain.EntryPending, now.Add(-grace)).
				Or("status = ? AND reminder_type = ?", domain.EntryFailed, domain.ReminderTypeFinal),
		).
		Pluck("condition_id", &ids).Error
	return ids, err
}
