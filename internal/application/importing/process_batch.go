package importing

import (
	"context"
	"errors"
	"fmt"
)

// HandleProcessPinsBatch reconciles one batch against the user's pins and
// commits the counters, the touched pins and their tag messages together.
func (o *Orchestrator) HandleProcessPinsBatch(ctx context.Context, msg ProcessPinsBatchMessage) error {
	imp, err := o.loadInProgress(ctx, msg.UserID, msg.ArchiveJobID)
	if err != nil || imp == nil {
		return err
	}

	existing, err := o.pins.ListByOwner(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("list pins: %w", err)
	}

	result := reconcile(msg.UserID, msg.Records, existing)

	if err := imp.AppendBatch(result.processed, result.created, result.updated, result.failed, len(result.conflicts)); err != nil {
		return err
	}
	imp.ReportConflictsAndFailures(result.conflicts, result.failures)

	completed, err := imp.TryComplete()
	if err != nil {
		return err
	}

	pending := imp.PendingEvents()
	envelopes, err := eventEnvelopes(pending)
	if err != nil {
		return err
	}
	for _, p := range result.pins {
		env, err := NewEnvelope(SubjectAssignTags, AssignTagsToPinMessage{PinID: p.ID})
		if err != nil {
			return err
		}
		envelopes = append(envelopes, env)
	}

	err = o.batches.CommitBatch(ctx, BatchCommit{
		Import:    imp,
		BatchID:   msg.BatchID,
		Pins:      result.pins,
		Envelopes: envelopes,
	})
	if errors.Is(err, ErrBatchAlreadyApplied) {
		o.logger.InfoContext(ctx, "batch already applied, dropping duplicate",
			"import_id", imp.ID,
			"batch_id", msg.BatchID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit batch %s: %w", msg.BatchID, err)
	}
	imp.AcknowledgeEvents(len(pending))

	o.logger.InfoContext(ctx, "batch processed",
		"import_id", imp.ID,
		"batch_id", msg.BatchID,
		"processed", result.processed,
		"created", result.created,
		"updated", result.updated,
		"failed", result.failed,
		"conflicts", len(result.conflicts),
	)

	if completed {
		o.logger.InfoContext(ctx, "import complete",
			"import_id", imp.ID,
			"processed", imp.Processed,
			"total", imp.Total,
		)
		o.disposeArchives(ctx, msg.UserID)
	}
	return nil
}
