package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db/models"
)

// BatchRepository commits a processed batch through gorm. It serves the
// sqlite setup; Postgres deployments use BulkBatchRepository.
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) CommitBatch(ctx context.Context, commit app.BatchCommit) error {
	row, err := models.NewImport(commit.Import)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marker := models.ImportBatch{
			ImportID:  commit.Import.ID,
			BatchID:   commit.BatchID,
			AppliedAt: time.Now().UTC(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return app.ErrBatchAlreadyApplied
		}

		if err := updateImport(tx, row); err != nil {
			return err
		}
		if len(commit.Pins) > 0 {
			if err := upsertPins(tx, commit.Pins); err != nil {
				return err
			}
		}
		return insertOutbox(tx, commit.Envelopes)
	})
	if err != nil {
		return err
	}

	commit.Import.Version++
	return nil
}
