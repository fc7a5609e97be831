package database

import (
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.HealthProfile{},
		&models.Alert{},
		&models.VerificationToken{},
		&models.CacheEntry{},
	)
}
