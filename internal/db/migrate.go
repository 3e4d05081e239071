package db

import (
	"fmt"

	"github.com/tverberg/pitlane/internal/config"
	"github.com/tverberg/pitlane/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Rig{},
		&models.QueueEntry{},
		&models.CreditAccount{},
		&models.RigCommand{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedRigs upserts Rig rows from configuration. Agent-owned telemetry
// columns are left untouched on existing rows.
func SeedRigs(db *gorm.DB, rigs []config.RigConfig) error {
	for _, rc := range rigs {
		rig := models.Rig{
			ID:           rc.ID,
			Name:         rc.Name,
			Claimed:      rc.Claimed,
			SessionState: "idle",
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "claimed"}),
		}).Create(&rig)
		if result.Error != nil {
			return fmt.Errorf("db: seed rig %q: %w", rc.ID, result.Error)
		}
	}
	return nil
}
