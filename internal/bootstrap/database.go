package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mohammadpnp/pinventory/internal/config"
)

// OpenDatabase opens Postgres when DATABASE_URL is a postgres URL and a
// sqlite file otherwise.
func OpenDatabase(cfg config.Config, logger *slog.Logger) (*gorm.DB, error) {
	dialector := sqlite.Open(strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"))
	if cfg.UsesPostgres() {
		dialector = postgres.Open(cfg.DatabaseURL)
	}

	level := gormlogger.Warn
	if cfg.LogLevel <= slog.LevelDebug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if !cfg.UsesPostgres() {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Info("database connected", "postgres", cfg.UsesPostgres())
	return db, nil
}

// OpenPool opens the pgx pool used for bulk batch commits. It returns nil
// when the database is not Postgres.
func OpenPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if !cfg.UsesPostgres() {
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgx pool: %w", err)
	}
	return pool, nil
}
