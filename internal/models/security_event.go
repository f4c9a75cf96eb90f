package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Security event severities, lowest to highest.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Well-known security event types.
const (
	EventNewDevice          = "new_device"
	EventSuspiciousLocation = "suspicious_location"
	EventSessionRevoked     = "session_revoked"
	EventSessionEvicted     = "session_evicted"
)

// SecurityEvent is an append-only record of a security-relevant occurrence
// tied to a session. Only the resolution fields may change after insert.
type SecurityEvent struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID   string         `gorm:"not null;index" json:"session_id"`
	UserID      string         `gorm:"type:uuid;not null;index" json:"user_id"`
	EventType   string         `gorm:"not null;index" json:"event_type"`
	Severity    string         `gorm:"not null" json:"severity"`
	Description string         `json:"description,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	OccurredAt  time.Time      `gorm:"not null;index" json:"occurred_at"`
	Resolved    bool           `gorm:"not null" json:"resolved"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy  *string        `gorm:"type:uuid" json:"resolved_by,omitempty"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
