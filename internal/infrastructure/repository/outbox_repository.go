package repository

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db/models"
)

// OutboxRepository leases unpublished outbox rows to relay workers.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func insertOutbox(tx *gorm.DB, envelopes []app.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]models.OutboxMessage, 0, len(envelopes))
	for _, env := range envelopes {
		rows = append(rows, models.OutboxMessage{
			ID:        env.ID,
			Subject:   env.Subject,
			Payload:   env.Payload,
			CreatedAt: now,
		})
	}

	if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
		return fmt.Errorf("insert outbox messages: %w", err)
	}
	return nil
}

// Claim leases up to limit unpublished messages, oldest first, for lease.
// Rows leased by another relay are skipped.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]app.Envelope, error) {
	var rows []models.OutboxMessage
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published_at IS NULL AND (lease_expires_at IS NULL OR lease_expires_at < ?)", now).
			Order("created_at").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		return tx.Model(&models.OutboxMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"lease_expires_at": now.Add(lease),
				"attempts":         gorm.Expr("attempts + 1"),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox messages: %w", err)
	}

	out := make([]app.Envelope, 0, len(rows))
	for _, row := range rows {
		out = append(out, app.Envelope{ID: row.ID, Subject: row.Subject, Payload: row.Payload})
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"published_at":     time.Now().UTC(),
			"lease_expires_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// Release drops the lease so the message is retried on the next claim.
func (r *OutboxRepository) Release(ctx context.Context, id string, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"lease_expires_at": nil,
			"last_error":       truncateReason(reason),
		}).Error
	if err != nil {
		return fmt.Errorf("release outbox message: %w", err)
	}
	return nil
}

func truncateReason(reason string) string {
	const maxLen = 1000
	if len(reason) <= maxLen {
		return reason
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
