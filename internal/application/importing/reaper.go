package importing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
)

const staleImportReason = "Import timed out"

type StaleImportReaperConfig struct {
	// StaleAfter is how long an import may stay in progress. Zero disables
	// the reaper.
	StaleAfter time.Duration
	Interval   time.Duration
	BatchSize  int
}

// StaleImportReaper fails imports that have been in progress for longer
// than StaleAfter, for example after a download that could not be parsed.
type StaleImportReaper struct {
	imports  ImportRepository
	services ArchiveServiceFactory
	logger   *slog.Logger
	cfg      StaleImportReaperConfig
	now      func() time.Time

	once sync.Once
}

func NewStaleImportReaper(imports ImportRepository, services ArchiveServiceFactory, logger *slog.Logger, cfg StaleImportReaperConfig) *StaleImportReaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StaleImportReaper{
		imports:  imports,
		services: services,
		logger:   logger.With("component", "stale_import_reaper"),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (r *StaleImportReaper) Start(ctx context.Context) {
	if r.cfg.StaleAfter <= 0 {
		r.logger.InfoContext(ctx, "stale import reaper disabled")
		return
	}
	r.once.Do(func() {
		go r.loop(ctx)
	})
}

func (r *StaleImportReaper) loop(ctx context.Context) {
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "reap stale imports failed", "error", err)
		}
		if !sleepWithContext(ctx, r.cfg.Interval) {
			return
		}
	}
}

// RunOnce fails every import started before now minus StaleAfter and
// returns how many it failed.
func (r *StaleImportReaper) RunOnce(ctx context.Context) (int, error) {
	if r.cfg.StaleAfter <= 0 {
		return 0, nil
	}

	stale, err := r.imports.ListStale(ctx, r.now().Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, imp := range stale {
		if err := imp.Fail(staleImportReason); err != nil {
			continue
		}

		envelopes, err := eventEnvelopes(imp.PendingEvents())
		if err != nil {
			return reaped, err
		}
		if err := r.imports.Save(ctx, imp, envelopes...); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				r.logger.InfoContext(ctx, "import changed while reaping, skipping", "import_id", imp.ID)
				continue
			}
			return reaped, err
		}
		imp.AcknowledgeEvents(len(envelopes))
		reaped++

		r.logger.WarnContext(ctx, "stale import failed",
			"import_id", imp.ID,
			"user_id", imp.UserID,
			"archive_job_id", imp.ArchiveJobID,
		)
		r.cancelExternalJob(ctx, imp)
	}
	return reaped, nil
}

func (r *StaleImportReaper) cancelExternalJob(ctx context.Context, imp *domain.Import) {
	service, err := r.services.Create(ctx, imp.UserID)
	if err != nil {
		r.logger.WarnContext(ctx, "create archive service failed", "user_id", imp.UserID, "error", err)
		return
	}
	if err := service.Cancel(ctx, imp.ArchiveJobID); err != nil {
		r.logger.WarnContext(ctx, "cancel archive job failed", "archive_job_id", imp.ArchiveJobID, "error", err)
	}
	if err := service.DisposeDataArchives(ctx); err != nil {
		r.logger.WarnContext(ctx, "dispose data archives failed", "user_id", imp.UserID, "error", err)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
