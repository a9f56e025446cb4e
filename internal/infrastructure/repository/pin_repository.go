package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mohammadpnp/pinventory/internal/domain/pin"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db/models"
)

type PinRepository struct {
	db *gorm.DB
}

func NewPinRepository(db *gorm.DB) *PinRepository {
	return &PinRepository{db: db}
}

func (r *PinRepository) ListByOwner(ctx context.Context, ownerID string) ([]*pin.Pin, error) {
	var rows []models.Pin

	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("added_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}

	out := make([]*pin.Pin, 0, len(rows))
	for _, row := range rows {
		p, err := row.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// upsertPins inserts pins or renames the stored pin with the same owner and
// place id.
func upsertPins(tx *gorm.DB, pins []*pin.Pin) error {
	rows := make([]models.Pin, 0, len(pins))
	for _, p := range pins {
		row, err := models.NewPin(p)
		if err != nil {
			return err
		}
		if row.Version == 0 {
			row.Version = 1
		}
		rows = append(rows, row)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "place_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":       gorm.Expr("excluded.name"),
			"version":    gorm.Expr("pins.version + 1"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert pins: %w", err)
	}
	return nil
}
