package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Defaults applied when a user has no stored limit override.
const (
	DefaultMaxConcurrentSessions = 5
	DefaultMaxSessionsPerDevice  = 3
)

// SessionLimits stores per-user overrides for session concurrency policy.
type SessionLimits struct {
	ID                    string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID                string    `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	MaxConcurrentSessions int       `gorm:"not null" json:"max_concurrent_sessions"`
	MaxSessionsPerDevice  int       `gorm:"not null" json:"max_sessions_per_device"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (l *SessionLimits) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
