package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/domain/pin"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db/models"
)

const uniqueViolation = "23505"

// BulkBatchRepository commits a processed batch on Postgres with COPY into
// the stg_pins staging table followed by a single upsert.
type BulkBatchRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewBulkBatchRepository(pool *pgxpool.Pool, logger *slog.Logger) *BulkBatchRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkBatchRepository{pool: pool, logger: logger}
}

func (r *BulkBatchRepository) CommitBatch(ctx context.Context, commit app.BatchCommit) error {
	row, err := models.NewImport(commit.Import)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO import_batches (import_id, batch_id, applied_at)
VALUES ($1, $2, NOW())
ON CONFLICT DO NOTHING
`, commit.Import.ID, commit.BatchID)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return app.ErrBatchAlreadyApplied
	}

	if err := bulkUpdateImport(ctx, tx, row); err != nil {
		return err
	}

	if len(commit.Pins) > 0 {
		created, renamed, err := bulkUpsertPins(ctx, tx, commit.BatchID, commit.Pins)
		if err != nil {
			return err
		}
		r.logger.DebugContext(ctx, "pins upserted",
			"import_id", commit.Import.ID,
			"batch_id", commit.BatchID,
			"inserted", created,
			"renamed", renamed,
		)
	}

	if err := bulkInsertOutbox(ctx, tx, commit.Envelopes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	commit.Import.Version++
	return nil
}

func bulkUpdateImport(ctx context.Context, tx pgx.Tx, row models.Import) error {
	tag, err := tx.Exec(ctx, `
UPDATE imports
SET state = $3,
    completed_at = $4,
    failure_reason = $5,
    processed = $6,
    created = $7,
    updated = $8,
    failed = $9,
    conflicts = $10,
    total = $11,
    conflicted_places = $12,
    failed_places = $13,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
`,
		row.ID, row.Version,
		row.State, row.CompletedAt, row.FailureReason,
		row.Processed, row.Created, row.Updated, row.Failed, row.Conflicts, row.Total,
		[]byte(row.ConflictedPlaces), []byte(row.FailedPlaces),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrImportAlreadyStarted, err)
		}
		return fmt.Errorf("update import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: import %s version %d", domain.ErrConcurrencyConflict, row.ID, row.Version)
	}
	return nil
}

func bulkUpsertPins(ctx context.Context, tx pgx.Tx, batchID string, pins []*pin.Pin) (int64, int64, error) {
	rows := make([][]any, 0, len(pins))
	for _, p := range pins {
		tags := p.Tags
		if tags == nil {
			tags = []string{}
		}
		rawTags, err := json.Marshal(tags)
		if err != nil {
			return 0, 0, fmt.Errorf("encode tags: %w", err)
		}
		rows = append(rows, []any{
			batchID,
			p.ID,
			p.OwnerID,
			p.PlaceID,
			p.Name,
			p.Address.Line,
			p.Address.CountryCode,
			p.Location.Lon(),
			p.Location.Lat(),
			p.AddedAt.UTC(),
			rawTags,
		})
	}

	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"stg_pins"},
		[]string{"batch_id", "id", "owner_id", "place_id", "name", "address_line", "country_code", "longitude", "latitude", "added_at", "tags"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, 0, fmt.Errorf("copy pins staging: %w", err)
	}

	result, err := tx.Query(ctx, `
WITH staged AS (
    SELECT DISTINCT ON (owner_id, place_id)
      id, owner_id, place_id, name, address_line, country_code, longitude, latitude, added_at, tags
    FROM stg_pins
    WHERE batch_id = $1
    ORDER BY owner_id, place_id
), upserted AS (
    INSERT INTO pins (id, owner_id, place_id, name, address_line, country_code, longitude, latitude, added_at, tags, version, created_at, updated_at)
    SELECT id, owner_id, place_id, name, address_line, country_code, longitude, latitude, added_at, tags, 1, NOW(), NOW()
    FROM staged
    ON CONFLICT (owner_id, place_id) DO UPDATE
      SET name = EXCLUDED.name,
          version = pins.version + 1,
          updated_at = NOW()
      WHERE pins.name IS DISTINCT FROM EXCLUDED.name
    RETURNING (xmax = 0) AS inserted
)
SELECT inserted FROM upserted
`, batchID)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert pins: %w", err)
	}
	created, renamed, err := countInsertedUpdated(result)
	result.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("upsert pins: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM stg_pins WHERE batch_id = $1", batchID); err != nil {
		return 0, 0, fmt.Errorf("cleanup stg_pins: %w", err)
	}
	return created, renamed, nil
}

func bulkInsertOutbox(ctx context.Context, tx pgx.Tx, envelopes []app.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(envelopes))
	for _, env := range envelopes {
		rows = append(rows, []any{env.ID, env.Subject, env.Payload, 0, now})
	}

	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"outbox_messages"},
		[]string{"id", "subject", "payload", "attempts", "created_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy outbox messages: %w", err)
	}
	return nil
}

func countInsertedUpdated(rows pgx.Rows) (int64, int64, error) {
	var inserted int64
	var updated int64

	for rows.Next() {
		var isInsert bool
		if err := rows.Scan(&isInsert); err != nil {
			return 0, 0, err
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}

	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}
