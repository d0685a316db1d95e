// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the minimal
// Message model, the FK target conditions hang off and the recipient source
// for the notification sender.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// CreateMessage inserts a new message row owned by userID.
func CreateMessage(ctx context.Context, db *gorm.DB, userID, title, recipient string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Recipient: recipient,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID, or ErrNotFound.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
