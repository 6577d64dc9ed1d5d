package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// Models lists every persisted entity in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.AuthAccount{},
		&models.Gig{},
		&models.SavedGig{},
		&models.Application{},
		&models.Community{},
		&models.Message{},
		&models.Notification{},
		&models.PushSubscription{},
		&models.OutboxEvent{},
	}
}

// Migrate creates or updates the schema for all domain tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
