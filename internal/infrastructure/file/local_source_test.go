package file_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadpnp/pinventory/internal/infrastructure/file"
)

func TestOpenURLReadsFileUnderBaseDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "export.zip"), []byte("zip-bytes"), 0o600))

	source := file.NewLocalSource(dir)

	for _, rawURL := range []string{
		"file://" + filepath.Join(dir, "export.zip"),
		"file:export.zip",
	} {
		rc, size, err := source.OpenURL(context.Background(), rawURL)
		require.NoError(t, err, rawURL)

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "zip-bytes", string(data))
		assert.Equal(t, int64(len("zip-bytes")), size)
	}
}

func TestOpenRejectsPathsOutsideBaseDir(t *testing.T) {
	t.Parallel()

	source := file.NewLocalSource(t.TempDir())

	_, _, err := source.Open(context.Background(), "../secret.zip")
	require.ErrorIs(t, err, file.ErrOutsideBaseDir)

	_, _, err = source.Open(context.Background(), "/etc/passwd")
	require.ErrorIs(t, err, file.ErrOutsideBaseDir)
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	source := file.NewLocalSource(t.TempDir())

	_, _, err := source.Open(context.Background(), "missing.zip")
	require.ErrorIs(t, err, file.ErrLocalFileAbsent)
}

func TestOpenURLRejectsOtherSchemes(t *testing.T) {
	t.Parallel()

	source := file.NewLocalSource(t.TempDir())

	_, _, err := source.OpenURL(context.Background(), "https://example.com/a.zip")
	require.ErrorIs(t, err, file.ErrNotFileURL)
}
