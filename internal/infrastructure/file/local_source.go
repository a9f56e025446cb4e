package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFileURL      = errors.New("not a file url")
	ErrOutsideBaseDir  = errors.New("path escapes base directory")
	ErrLocalFileAbsent = errors.New("local file not found")
)

// LocalSource serves exports that were stored on disk, for example to
// re-drive an import without asking the provider for a new archive.
type LocalSource struct {
	BaseDir string
}

func NewLocalSource(baseDir string) *LocalSource {
	if baseDir == "" {
		baseDir = "."
	}
	return &LocalSource{BaseDir: baseDir}
}

// OpenURL opens a file:// URL. Relative paths resolve against BaseDir and
// may not leave it.
func (s *LocalSource) OpenURL(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFileURL, rawURL)
	}

	path := u.Path
	switch {
	case u.Opaque != "":
		path = u.Opaque
	case u.Host != "" && u.Host != "localhost":
		path = u.Host + u.Path
	}
	return s.Open(ctx, path)
}

func (s *LocalSource) Open(ctx context.Context, sourcePath string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	path, err := s.resolve(sourcePath)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrLocalFileAbsent, path)
		}
		return nil, 0, fmt.Errorf("open file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", path, err)
	}
	return file, info.Size(), nil
}

func (s *LocalSource) resolve(sourcePath string) (string, error) {
	base, err := filepath.Abs(s.BaseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}

	path := filepath.Clean(sourcePath)
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}

	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBaseDir, sourcePath)
	}
	return path, nil
}
