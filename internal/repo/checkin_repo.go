// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the append-only
// CheckIn log.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// CreateCheckIn appends a check-in log row for userID.
func CreateCheckIn(ctx context.Context, db *gorm.DB, userID string, method domain.CheckInMethod, at time.Time) (*domain.CheckIn, error) {
	ci := &domain.CheckIn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Method:    method,
		CreatedAt: at,
	}
	if err := db.WithContext(ctx).Create(ci).Error; err != nil {
		return nil, err
	}
	return ci, nil
}

// GetCheckIn returns one check-in by id, ErrNotFound when absent. Used by
// the idempotency replay path.
func GetCheckIn(ctx context.Context, db *gorm.DB, id string) (*domain.CheckIn, error) {
	var ci domain.CheckIn
	err := db.WithContext(ctx).First(&ci, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ci, nil
}

// ListCheckIns returns a page of a user's check-in history, newest first.
func ListCheckIns(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.CheckIn, error) {
	var out []domain.CheckIn
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
