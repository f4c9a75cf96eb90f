package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session tracks one issued token pair and its client context.
//
// AccessTokenID / RefreshTokenID always reference the most recently issued,
// unrevoked pair while Active is true; rotation replaces both in place.
type Session struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string     `gorm:"type:uuid;not null;index" json:"user_id"`
	AccessTokenID     string     `gorm:"not null;index" json:"-"`
	RefreshTokenID    string     `gorm:"not null;uniqueIndex" json:"-"`
	IPAddress         string     `json:"ip_address"`
	UserAgent         string     `json:"user_agent"`
	DeviceFingerprint string     `gorm:"index" json:"device_fingerprint,omitempty"`
	DeviceName        string     `json:"device_name,omitempty"`
	LocationCountry   string     `json:"location_country,omitempty"`
	LocationRegion    string     `json:"location_region,omitempty"`
	LocationCity      string     `json:"location_city,omitempty"`
	Active            bool       `gorm:"not null;index" json:"active"`
	ExpiresAt         time.Time  `gorm:"index" json:"expires_at"`
	LastActivityAt    time.Time  `gorm:"index" json:"last_activity_at"`
	CreatedAt         time.Time  `json:"created_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
