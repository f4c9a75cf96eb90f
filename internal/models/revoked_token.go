package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RevokedToken records a token identifier that must never be accepted again,
// regardless of signature validity. Rows are retained for a forensic window
// past the token's natural expiry before being swept.
type RevokedToken struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	TokenID        string    `gorm:"not null;uniqueIndex" json:"token_id"`
	UserID         string    `gorm:"type:uuid;not null;index" json:"user_id"`
	SessionID      string    `gorm:"index" json:"session_id,omitempty"`
	Kind           string    `gorm:"not null" json:"kind"`
	Reason         string    `gorm:"not null" json:"reason"`
	RevokedAt      time.Time `gorm:"not null" json:"revoked_at"`
	OriginalExpiry time.Time `gorm:"not null;index" json:"original_expiry"`
}

func (r *RevokedToken) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
