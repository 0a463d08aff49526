package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
)

// AutoMigrateAll creates the tables this service owns. Warehouse tables are
// never touched; they belong to the upstream source system.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.RunLog{},
		&domain.Watermark{},
	); err != nil {
		return fmt.Errorf("db: automigrate: %w", err)
	}
	return nil
}
