package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/db"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(conn))
	return conn
}

type allowAll struct{}

func (allowAll) CanStartImport(ctx context.Context, userID string) (bool, error) {
	return true, nil
}

func startedImport(t *testing.T, userID, archiveJobID string) *domain.Import {
	t.Helper()

	imp := domain.NewImport(userID, domain.AllTime())
	require.NoError(t, imp.Start(context.Background(), archiveJobID, allowAll{}))
	return imp
}
