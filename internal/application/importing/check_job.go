package importing

import (
	"context"
	"fmt"
)

const archiveJobFailedReason = "Archive job failed"

// HandleCheckJob polls the external job once. While the job runs it asks for
// the same message again after CheckInterval.
func (o *Orchestrator) HandleCheckJob(ctx context.Context, msg CheckJobMessage) (Outcome, error) {
	imp, err := o.loadInProgress(ctx, msg.UserID, msg.ArchiveJobID)
	if err != nil || imp == nil {
		return Outcome{}, err
	}

	service, err := o.services.Create(ctx, msg.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("create archive service: %w", err)
	}

	status, err := service.CheckJob(ctx, msg.ArchiveJobID)
	if err != nil {
		o.logger.WarnContext(ctx, "check archive job failed, polling again later",
			"import_id", imp.ID,
			"archive_job_id", msg.ArchiveJobID,
			"error", err,
		)
		return Outcome{RedeliverAfter: o.cfg.CheckInterval}, nil
	}

	switch status.State {
	case ArchiveInProgress:
		return Outcome{RedeliverAfter: o.cfg.CheckInterval}, nil

	case ArchiveComplete:
		download, err := NewEnvelope(SubjectDownloadArchive, DownloadArchiveMessage{
			UserID:       msg.UserID,
			ArchiveJobID: msg.ArchiveJobID,
			URLs:         status.URLs,
		})
		if err != nil {
			return Outcome{}, err
		}
		if err := o.save(ctx, imp, download); err != nil {
			return Outcome{}, err
		}
		o.logger.InfoContext(ctx, "archive job complete", "import_id", imp.ID, "urls", len(status.URLs))
		return Outcome{}, nil

	case ArchiveFailed:
		if err := imp.Fail(archiveJobFailedReason); err != nil {
			return Outcome{}, err
		}

	case ArchiveCancelled:
		if err := imp.Cancel(); err != nil {
			return Outcome{}, err
		}

	default:
		return Outcome{}, fmt.Errorf("unexpected archive job state %s", status.State)
	}

	if err := o.save(ctx, imp); err != nil {
		return Outcome{}, err
	}
	o.logger.InfoContext(ctx, "import finished by archive job", "import_id", imp.ID, "state", imp.State)
	o.disposeArchives(ctx, msg.UserID)
	return Outcome{}, nil
}
