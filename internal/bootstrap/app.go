package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	"github.com/mohammadpnp/pinventory/internal/config"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/archive"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/file"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/messaging"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/portability"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/repository"
	httpecho "github.com/mohammadpnp/pinventory/internal/interfaces/http/echo"
)

const (
	durableCheckJob        = "import-check-job"
	durableDownloadArchive = "import-download-archive"
	durableProcessBatch    = "import-process-batch"
)

// App is the wired import service: HTTP API, saga consumers, outbox relay
// and stale import reaper.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	db   *gorm.DB
	pool *pgxpool.Pool
	nc   *nats.Conn

	server   *echo.Echo
	consumer *messaging.Consumer
	relay    *messaging.Relay
	reaper   *app.StaleImportReaper
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	var err error
	if a.db, err = OpenDatabase(cfg, logger); err != nil {
		return nil, err
	}
	if err := db.Migrate(a.db); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if a.pool, err = OpenPool(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	nc, js, err := messaging.Connect(cfg.NATSURL, "pinventory-import")
	if err != nil {
		a.Close()
		return nil, err
	}
	a.nc = nc
	if err := messaging.EnsureStream(js); err != nil {
		a.Close()
		return nil, err
	}

	imports := repository.NewImportRepository(a.db)

	var batches app.BatchCommitter = repository.NewBatchRepository(a.db)
	if a.pool != nil {
		batches = repository.NewBulkBatchRepository(a.pool, logger)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	services := portability.NewFactory(
		portability.NewIdentityClient(cfg.IdentityURL, httpClient, portability.RetryPolicy{}),
		portability.FactoryConfig{
			BaseURL:      cfg.PortabilityBaseURL,
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			HTTPClient:   httpClient,
		},
	)
	var local *file.LocalSource
	if cfg.ImportBaseDir != "" {
		local = file.NewLocalSource(cfg.ImportBaseDir)
	}
	downloader := archive.NewDownloader(nil, local, logger, archive.Config{})

	orchestrator := app.NewOrchestrator(app.OrchestratorDeps{
		Imports:    imports,
		Pins:       repository.NewPinRepository(a.db),
		Batches:    batches,
		Policy:     repository.NewImportPolicy(a.db),
		Services:   services,
		Downloader: downloader,
		Logger:     logger,
	}, app.OrchestratorConfig{
		BatchSize:     cfg.ImportBatchSize,
		CheckInterval: cfg.ImportCheckInterval,
	})

	a.consumer = messaging.NewConsumer(js, logger, messaging.ConsumerConfig{
		Workers:    cfg.ImportWorkers,
		MaxDeliver: cfg.ImportMaxDeliver,
	},
		messaging.Route{
			Subject:    app.SubjectCheckJob,
			Durable:    durableCheckJob,
			Handler:    messaging.HandleWithOutcome(orchestrator.HandleCheckJob),
			MaxDeliver: -1,
		},
		messaging.Route{
			Subject: app.SubjectDownloadArchive,
			Durable: durableDownloadArchive,
			Handler: messaging.Handle(orchestrator.HandleDownloadArchive),
		},
		messaging.Route{
			Subject: app.SubjectProcessBatch,
			Durable: durableProcessBatch,
			Handler: messaging.Handle(orchestrator.HandleProcessPinsBatch),
		},
	)

	a.relay = messaging.NewRelay(repository.NewOutboxRepository(a.db), messaging.NewPublisher(js), logger, messaging.RelayConfig{
		BatchSize:     cfg.OutboxBatchSize,
		PollInterval:  cfg.OutboxPollInterval,
		LeaseDuration: cfg.OutboxLease,
	})

	a.reaper = app.NewStaleImportReaper(imports, services, logger, app.StaleImportReaperConfig{
		StaleAfter: cfg.ImportStaleAfter,
		Interval:   cfg.ReaperInterval,
	})

	a.server = NewHTTPServer(
		httpecho.NewImportHandler(orchestrator, app.NewGetImportStatus(imports)),
		httpecho.NewHealthHandler(a.healthChecks()),
	)
	return a, nil
}

// Run serves until ctx is cancelled, then shuts the HTTP server down and
// waits for in-flight messages.
func (a *App) Run(ctx context.Context) error {
	a.relay.Start(ctx)
	a.reaper.Start(ctx)
	if err := a.consumer.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "port", a.cfg.Port)
		if err := a.server.Start(":" + a.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("graceful shutdown failed", "error", err)
	}
	if runErr == nil {
		a.consumer.Wait()
	}
	return runErr
}

func (a *App) Close() {
	if a.nc != nil {
		_ = a.nc.Drain()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func (a *App) healthChecks() map[string]httpecho.HealthCheck {
	return map[string]httpecho.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"nats": func(ctx context.Context) error {
			if status := a.nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", status)
			}
			return nil
		},
	}
}
