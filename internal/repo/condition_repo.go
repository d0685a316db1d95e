// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Condition
// model, the store adapter the scheduling engine reads its source of truth
// from.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only CRUD persistence and query composition.
//
// Error semantics:
//   - When a condition is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStaleSchedule indicates that a schedule-version check failed because a
// concurrent reconciliation committed first.
var ErrStaleSchedule = errors.New("schedule version is stale")

// CreateCondition inserts a new Condition row. The ID is a randomly generated
// UUID and CreatedAt is set to UTC. Conditions are created disarmed; arming is
// a separate operation so validation happens exactly once, at arm time.
func CreateCondition(ctx context.Context, db *gorm.DB, c *domain.Condition) (*domain.Condition, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetCondition fetches a condition by ID, or ErrNotFound.
func GetCondition(ctx context.Context, db *gorm.DB, id string) (*domain.Condition, error) {
	var c domain.Condition
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConditionByMessageID fetches the condition owned by a message, or
// ErrNotFound when the message has none.
func GetConditionByMessageID(ctx context.Context, db *gorm.DB, messageID string) (*domain.Condition, error) {
	var c domain.Condition
	if err := db.WithContext(ctx).Where("message_id = ?", messageID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConditionsPage returns a paginated slice of a user's conditions ordered
// by creation time descending. Use CountConditions for pagination metadata.
func ListConditionsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Condition, error) {
	var out []domain.Condition
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountConditions returns the total number of conditions owned by userID.
func CountConditions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Condition{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListActiveConditions returns all armed conditions belonging to userID,
// ordered deterministically. Used by the check-in fan-out.
func ListActiveConditions(ctx context.Context, db *gorm.DB, userID string) ([]domain.Condition, error) {
	var out []domain.Condition
	err := db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListActiveDueBefore returns armed check-in based conditions whose deadline
// (last_checked + threshold) falls before ts. Schedule based conditions carry
// their deadline in trigger_date and are matched on that column.
func ListActiveDueBefore(ctx context.Context, db *gorm.DB, ts time.Time) ([]domain.Condition, error) {
	var out []domain.Condition
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Where(
			db.Where("trigger_date IS NOT NULL AND trigger_date < ?", ts).
				Or("last_checked IS NOT NULL AND threshold_minutes > 0 AND datetime(last_checked, '+' || threshold_minutes || ' minutes') < datetime(?)", ts),
		).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// UpdateCondition applies a partial update to a condition row. If no rows are
// affected (condition missing), it returns ErrNotFound.
func UpdateCondition(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Condition{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// BumpScheduleVersion atomically increments the condition's schedule version
// provided it still equals expect, returning the new version. A zero rows
// result means another reconciliation committed first; the caller must treat
// its own computed schedule as stale.
func BumpScheduleVersion(ctx context.Context, db *gorm.DB, id string, expect int64) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Condition{}).
		Where("id = ? AND schedule_version = ?", id, expect).
		Update("schedule_version", expect+1)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrStaleSchedule
	}
	return expect + 1, nil
}
