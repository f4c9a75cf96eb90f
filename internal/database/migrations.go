package database

import (
	"gorm.io/gorm"

	"github.com/passq/passq/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Session{},
		&models.RevokedToken{},
		&models.TrustedDevice{},
		&models.SessionLimits{},
		&models.SecurityEvent{},
		&models.AuditLog{},
	)
}
