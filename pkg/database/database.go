package database

import (
	"fmt"

	"mailsense-backend/internal/mail/domain"
	"mailsense-backend/pkg/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPostgresConnection opens the database and keeps gorm's own logging
// down to warnings so the application log stays readable.
func NewPostgresConnection(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return db, nil
}

// Migrate applies the schema for every persisted model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.MailAccount{},
		&domain.Message{},
		&domain.MessageBody{},
		&domain.Contact{},
		&domain.Enrichment{},
		&domain.Subscription{},
		&domain.EnrichmentJob{},
		&domain.DeviceToken{},
	)
}
