package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mohammadpnp/pinventory/internal/infrastructure/db/models"
)

// stgPinsSQL creates the unlogged staging table the bulk batch writer copies
// pins into before upserting them.
const stgPinsSQL = `
CREATE UNLOGGED TABLE IF NOT EXISTS stg_pins (
  batch_id TEXT NOT NULL,
  id UUID NOT NULL,
  owner_id TEXT NOT NULL,
  place_id TEXT NOT NULL,
  name TEXT NOT NULL,
  address_line TEXT NOT NULL,
  country_code TEXT NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  latitude DOUBLE PRECISION NOT NULL,
  added_at TIMESTAMPTZ NOT NULL,
  tags JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stg_pins_batch_id ON stg_pins (batch_id);
`

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Import{},
		&models.Pin{},
		&models.OutboxMessage{},
		&models.ImportBatch{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(stgPinsSQL).Error; err != nil {
			return fmt.Errorf("create staging tables: %w", err)
		}
	}
	return nil
}
