package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is one tamper-evident audit entry. IntegrityTag is a keyed MAC
// over every other field; it must never be rewritten after insert.
type AuditLog struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	EventType    string    `gorm:"not null;index" json:"event_type"`
	UserID       *string   `gorm:"type:uuid;index" json:"user_id,omitempty"`
	ResourceID   *string   `gorm:"type:uuid" json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Details      string    `json:"details,omitempty"`
	OccurredAt   time.Time `gorm:"not null;index" json:"occurred_at"`
	IntegrityTag string    `gorm:"not null" json:"integrity_tag"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
