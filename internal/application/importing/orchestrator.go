package importing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
)

// Outcome tells the transport what to do with a message that was handled
// without error. A positive RedeliverAfter asks for the same message again
// after that delay.
type Outcome struct {
	RedeliverAfter time.Duration
}

type OrchestratorConfig struct {
	BatchSize     int
	CheckInterval time.Duration
}

type OrchestratorDeps struct {
	Imports    ImportRepository
	Pins       PinRepository
	Batches    BatchCommitter
	Policy     domain.ConcurrencyPolicy
	Services   ArchiveServiceFactory
	Downloader ArchiveDownloader
	Logger     *slog.Logger
}

// Orchestrator drives an Import from start to a terminal state. It keeps no
// state between calls; every handler reloads the aggregate.
type Orchestrator struct {
	imports    ImportRepository
	pins       PinRepository
	batches    BatchCommitter
	policy     domain.ConcurrencyPolicy
	services   ArchiveServiceFactory
	downloader ArchiveDownloader
	logger     *slog.Logger
	cfg        OrchestratorConfig
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		imports:    deps.Imports,
		pins:       deps.Pins,
		batches:    deps.Batches,
		policy:     deps.Policy,
		services:   deps.Services,
		downloader: deps.Downloader,
		logger:     logger.With("component", "import_orchestrator"),
		cfg:        cfg,
	}
}

type StartImportCommand struct {
	UserID string
	// Period defaults to all time when nil.
	Period *domain.Period
}

// StartImport initiates an export job and persists a started Import. It
// returns the external archive job id.
func (o *Orchestrator) StartImport(ctx context.Context, cmd StartImportCommand) (string, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return "", ErrUserIDEmpty
	}

	allowed, err := o.policy.CanStartImport(ctx, cmd.UserID)
	if err != nil {
		return "", fmt.Errorf("check import policy: %w", err)
	}
	if !allowed {
		return "", domain.ErrImportAlreadyStarted
	}

	period := domain.AllTime()
	if cmd.Period != nil {
		period = *cmd.Period
	}

	service, err := o.services.Create(ctx, cmd.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: create archive service: %v", ErrStartImport, err)
	}

	archiveJobID, err := service.Initiate(ctx, period)
	if err != nil {
		return "", fmt.Errorf("%w: initiate archive job: %v", ErrStartImport, err)
	}

	imp := domain.NewImport(cmd.UserID, period)
	if err := imp.Start(ctx, archiveJobID, o.policy); err != nil {
		o.cancelExternalJob(ctx, service, archiveJobID)
		return "", err
	}

	envelopes, err := o.envelopesFor(imp, SubjectCheckJob, CheckJobMessage{
		UserID:       cmd.UserID,
		ArchiveJobID: archiveJobID,
	})
	if err != nil {
		o.cancelExternalJob(ctx, service, archiveJobID)
		return "", fmt.Errorf("%w: %v", ErrStartImport, err)
	}

	if err := o.imports.Add(ctx, imp, envelopes...); err != nil {
		o.cancelExternalJob(ctx, service, archiveJobID)
		if errors.Is(err, domain.ErrImportAlreadyStarted) {
			return "", err
		}
		return "", fmt.Errorf("%w: persist import: %v", ErrStartImport, err)
	}
	imp.AcknowledgeEvents(len(imp.PendingEvents()))

	o.logger.InfoContext(ctx, "import started",
		"import_id", imp.ID,
		"user_id", cmd.UserID,
		"archive_job_id", archiveJobID,
	)
	return archiveJobID, nil
}

type CancelImportCommand struct {
	UserID       string
	ArchiveJobID string
}

func (o *Orchestrator) CancelImport(ctx context.Context, cmd CancelImportCommand) error {
	imp, err := o.imports.FindInProgress(ctx, cmd.UserID, cmd.ArchiveJobID)
	if err != nil {
		if errors.Is(err, domain.ErrImportNotFound) {
			return ErrRunningImportNotFound
		}
		return fmt.Errorf("load import: %w", err)
	}

	if err := imp.Cancel(); err != nil {
		return err
	}
	if err := o.save(ctx, imp); err != nil {
		return err
	}

	service, err := o.services.Create(ctx, cmd.UserID)
	if err != nil {
		o.logger.WarnContext(ctx, "create archive service for cancel failed", "user_id", cmd.UserID, "error", err)
		return nil
	}
	o.cancelExternalJob(ctx, service, cmd.ArchiveJobID)
	return nil
}

// save persists imp with its pending events and the given messages, then
// drops the events it wrote.
func (o *Orchestrator) save(ctx context.Context, imp *domain.Import, extra ...Envelope) error {
	pending := len(imp.PendingEvents())
	envelopes, err := eventEnvelopes(imp.PendingEvents())
	if err != nil {
		return err
	}
	envelopes = append(envelopes, extra...)

	if err := o.imports.Save(ctx, imp, envelopes...); err != nil {
		return fmt.Errorf("save import %s: %w", imp.ID, err)
	}
	imp.AcknowledgeEvents(pending)
	return nil
}

func (o *Orchestrator) envelopesFor(imp *domain.Import, subject string, msg any) ([]Envelope, error) {
	envelopes, err := eventEnvelopes(imp.PendingEvents())
	if err != nil {
		return nil, err
	}
	env, err := NewEnvelope(subject, msg)
	if err != nil {
		return nil, err
	}
	return append(envelopes, env), nil
}

func (o *Orchestrator) cancelExternalJob(ctx context.Context, service ArchiveService, archiveJobID string) {
	if err := service.Cancel(ctx, archiveJobID); err != nil {
		o.logger.WarnContext(ctx, "cancel archive job failed", "archive_job_id", archiveJobID, "error", err)
	}
}

func (o *Orchestrator) disposeArchives(ctx context.Context, userID string) {
	service, err := o.services.Create(ctx, userID)
	if err != nil {
		o.logger.WarnContext(ctx, "create archive service for dispose failed", "user_id", userID, "error", err)
		return
	}
	if err := service.DisposeDataArchives(ctx); err != nil {
		o.logger.WarnContext(ctx, "dispose data archives failed", "user_id", userID, "error", err)
	}
}

// loadInProgress returns nil, nil when the import is no longer running so
// handlers can drop late or duplicate messages.
func (o *Orchestrator) loadInProgress(ctx context.Context, userID, archiveJobID string) (*domain.Import, error) {
	imp, err := o.imports.FindInProgress(ctx, userID, archiveJobID)
	if err != nil {
		if errors.Is(err, domain.ErrImportNotFound) {
			o.logger.InfoContext(ctx, "no running import, dropping message",
				"user_id", userID,
				"archive_job_id", archiveJobID,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("load import: %w", err)
	}
	return imp, nil
}
