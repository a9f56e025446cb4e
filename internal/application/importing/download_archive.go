package importing

import (
	"context"

	"github.com/google/uuid"
)

// HandleDownloadArchive fetches and parses the finished export, records the
// expected total and fans the records out as batch messages in the same
// write as the aggregate.
func (o *Orchestrator) HandleDownloadArchive(ctx context.Context, msg DownloadArchiveMessage) error {
	if len(msg.URLs) < 2 {
		o.logger.ErrorContext(ctx, "download message needs metadata and data urls, dropping",
			"archive_job_id", msg.ArchiveJobID,
			"urls", len(msg.URLs),
		)
		return nil
	}

	imp, err := o.loadInProgress(ctx, msg.UserID, msg.ArchiveJobID)
	if err != nil || imp == nil {
		return err
	}
	if imp.Total > 0 || imp.Processed > 0 {
		o.logger.InfoContext(ctx, "archive already fanned out, dropping duplicate", "import_id", imp.ID)
		return nil
	}

	places, err := o.downloader.Download(ctx, msg.URLs[0], msg.URLs[1])
	if err != nil {
		o.logger.ErrorContext(ctx, "download archive failed",
			"import_id", imp.ID,
			"archive_job_id", msg.ArchiveJobID,
			"error", err,
		)
		return nil
	}

	imp.UpdateTotal(len(places))

	if len(places) == 0 {
		if _, err := imp.TryComplete(); err != nil {
			return err
		}
		if err := o.save(ctx, imp); err != nil {
			return err
		}
		o.logger.InfoContext(ctx, "archive holds no places, import complete", "import_id", imp.ID)
		o.disposeArchives(ctx, msg.UserID)
		return nil
	}

	batches := make([]Envelope, 0, (len(places)+o.cfg.BatchSize-1)/o.cfg.BatchSize)
	for start := 0; start < len(places); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(places))
		env, err := NewEnvelope(SubjectProcessBatch, ProcessPinsBatchMessage{
			UserID:       msg.UserID,
			ArchiveJobID: msg.ArchiveJobID,
			BatchID:      uuid.NewString(),
			Records:      places[start:end],
		})
		if err != nil {
			return err
		}
		batches = append(batches, env)
	}

	if err := o.save(ctx, imp, batches...); err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "archive downloaded",
		"import_id", imp.ID,
		"records", len(places),
		"batches", len(batches),
	)
	return nil
}
