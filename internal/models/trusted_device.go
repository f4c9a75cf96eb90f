package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Device trust levels assigned to a fingerprint based on history.
const (
	TrustLevelUntrusted = "untrusted"
	TrustLevelKnown     = "known"
	TrustLevelTrusted   = "trusted"
)

// TrustedDevice accumulates history for one (user, fingerprint) pair.
// Records are never deleted automatically; trust history outlives sessions.
type TrustedDevice struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string         `gorm:"type:uuid;not null;uniqueIndex:idx_trusted_device,priority:1" json:"user_id"`
	Fingerprint  string         `gorm:"not null;uniqueIndex:idx_trusted_device,priority:2" json:"fingerprint"`
	DeviceName   string         `json:"device_name,omitempty"`
	TrustLevel   string         `gorm:"not null" json:"trust_level"`
	TrustScore   int            `gorm:"not null" json:"trust_score"`
	IPAddresses  datatypes.JSON `json:"ip_addresses,omitempty"`
	SessionCount int            `gorm:"not null" json:"session_count"`
	FirstSeenAt  time.Time      `gorm:"not null" json:"first_seen_at"`
	LastSeenAt   time.Time      `gorm:"not null" json:"last_seen_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (d *TrustedDevice) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
