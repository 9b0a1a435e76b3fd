package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cacheSlot struct {
	Key       string    `gorm:"primaryKey;size:191"`
	Value     string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (cacheSlot) TableName() string { return "cache_slots" }

// Get returns the value stored under key unless it has expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var slot cacheSlot
	err := s.db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, s.now()).
		Take(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return slot.Value, true, nil
}

// Set stores value under key for ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	slot := cacheSlot{Key: key, Value: value, ExpiresAt: s.now().Add(ttl)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&slot).Error
}

// Delete removes the given keys. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("key IN ?", keys).Delete(&cacheSlot{}).Error
}
