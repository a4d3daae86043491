package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/model"
)

// AutoMigrate runs gorm migrations for all application tables
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.UserSettings{},
		&model.Chat{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
