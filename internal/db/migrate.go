package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fernwake/prodsync/internal/models"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Product{},
		&models.Initiative{},
		&models.Component{},
		&models.Feature{},
		&models.InitiativeFeature{},
		&models.ComponentInitiative{},
		&models.SyncRun{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
