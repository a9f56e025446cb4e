package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db/models"
)

// ImportPolicy allows a start only when the user has no import in progress.
// The unique index on imports backs it up under races.
type ImportPolicy struct {
	db *gorm.DB
}

func NewImportPolicy(db *gorm.DB) *ImportPolicy {
	return &ImportPolicy{db: db}
}

func (p *ImportPolicy) CanStartImport(ctx context.Context, userID string) (bool, error) {
	var running int64

	err := p.db.WithContext(ctx).
		Model(&models.Import{}).
		Where("user_id = ? AND state = ?", userID, domain.StateInProgress.String()).
		Count(&running).Error
	if err != nil {
		return false, fmt.Errorf("count running imports: %w", err)
	}
	return running == 0, nil
}
