package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db/models"
)

// ImportRepository stores imports with gorm. The db handle must be opened
// with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type ImportRepository struct {
	db *gorm.DB
}

func NewImportRepository(db *gorm.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

func (r *ImportRepository) Add(ctx context.Context, imp *domain.Import, envelopes ...app.Envelope) error {
	row, err := models.NewImport(imp)
	if err != nil {
		return err
	}
	row.Version = 1

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return translateImportError(err)
		}
		return insertOutbox(tx, envelopes)
	})
	if err != nil {
		return err
	}

	imp.Version = row.Version
	return nil
}

func (r *ImportRepository) Save(ctx context.Context, imp *domain.Import, envelopes ...app.Envelope) error {
	row, err := models.NewImport(imp)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateImport(tx, row); err != nil {
			return err
		}
		return insertOutbox(tx, envelopes)
	})
	if err != nil {
		return err
	}

	imp.Version++
	return nil
}

func updateImport(tx *gorm.DB, row models.Import) error {
	columns := row.Mutable()
	columns["version"] = gorm.Expr("version + 1")
	columns["updated_at"] = time.Now().UTC()

	res := tx.Model(&models.Import{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(columns)
	if res.Error != nil {
		return translateImportError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: import %s version %d", domain.ErrConcurrencyConflict, row.ID, row.Version)
	}
	return nil
}

func (r *ImportRepository) FindInProgress(ctx context.Context, userID, archiveJobID string) (*domain.Import, error) {
	var row models.Import

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND archive_job_id = ? AND state = ?", userID, archiveJobID, domain.StateInProgress.String()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrImportNotFound
		}
		return nil, fmt.Errorf("find running import: %w", err)
	}
	return row.ToDomain()
}

func (r *ImportRepository) FindLatest(ctx context.Context, userID string) (*domain.Import, error) {
	var row models.Import

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrImportNotFound
		}
		return nil, fmt.Errorf("find latest import: %w", err)
	}
	return row.ToDomain()
}

func (r *ImportRepository) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Import, error) {
	var rows []models.Import

	err := r.db.WithContext(ctx).
		Where("state = ? AND started_at < ?", domain.StateInProgress.String(), startedBefore.UTC()).
		Order("started_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list stale imports: %w", err)
	}

	out := make([]*domain.Import, 0, len(rows))
	for _, row := range rows {
		imp, err := row.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("map import %s: %w", row.ID, err)
		}
		out = append(out, imp)
	}
	return out, nil
}

func translateImportError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrImportAlreadyStarted, err)
	}
	return fmt.Errorf("write import: %w", err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	// sqlite builds without error translation report the raw constraint text.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
