package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/file"
)

const (
	portabilityRoot = "Portability/"
	manifestPath    = portabilityRoot + "archive_browser.json"
)

type Config struct {
	// MaxArchiveBytes caps a single downloaded container.
	MaxArchiveBytes int64
	RetryInterval   time.Duration
	RetryMaxElapsed time.Duration
}

// Downloader reads an export made of two zip containers: the first holds the
// manifest and the second the saved places file it points to.
type Downloader struct {
	http   *http.Client
	local  *file.LocalSource
	logger *slog.Logger
	cfg    Config
}

// NewDownloader returns a downloader for http(s) URLs. file:// URLs are
// served from local and rejected when local is nil.
func NewDownloader(httpClient *http.Client, local *file.LocalSource, logger *slog.Logger, cfg Config) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = 512 << 20
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 2 * time.Minute
	}

	return &Downloader{
		http:   httpClient,
		local:  local,
		logger: logger.With("component", "archive_downloader"),
		cfg:    cfg,
	}
}

func (d *Downloader) Download(ctx context.Context, metadataURL, dataURL string) ([]app.StarredPlace, error) {
	metadata, err := d.openZip(ctx, metadataURL)
	if err != nil {
		return nil, err
	}
	manifest, err := readFile(metadata, manifestPath)
	if err != nil {
		return nil, err
	}
	path, err := dataPath(manifest)
	if err != nil {
		return nil, err
	}

	data, err := d.openZip(ctx, dataURL)
	if err != nil {
		return nil, err
	}
	content, err := readFile(data, path)
	if err != nil {
		return nil, err
	}

	places, err := parsePlaces(path, content)
	if err != nil {
		return nil, err
	}
	d.logger.InfoContext(ctx, "archive parsed", "path", path, "places", len(places))
	return places, nil
}

func (d *Downloader) openZip(ctx context.Context, rawURL string) (*zip.Reader, error) {
	body, err := d.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedContent, redact(rawURL), err)
	}
	return zr, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
	}

	switch {
	case u.Scheme == "file" && d.local != nil:
		rc, _, err := d.local.OpenURL(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return d.readLimited(rc, rawURL)
	case u.Scheme == "http" || u.Scheme == "https":
		return d.fetchHTTP(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (d *Downloader) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryInterval
	bo.MaxElapsedTime = d.cfg.RetryMaxElapsed

	var body []byte
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := d.http.Do(req)
		if err != nil {
			d.logger.WarnContext(ctx, "archive download failed, retrying", "url", redact(rawURL), "error", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := &HTTPStatusError{URL: redact(rawURL), StatusCode: resp.StatusCode, Status: resp.Status}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		body, err = d.readLimited(resp.Body, rawURL)
		if errors.Is(err, ErrArchiveTooLarge) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (d *Downloader) readLimited(r io.Reader, rawURL string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, d.cfg.MaxArchiveBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", redact(rawURL), err)
	}
	if int64(len(body)) > d.cfg.MaxArchiveBytes {
		return nil, fmt.Errorf("%w: %s", ErrArchiveTooLarge, redact(rawURL))
	}
	return body, nil
}

func readFile(zr *zip.Reader, path string) ([]byte, error) {
	f, err := zr.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedContent, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedContent, path, err)
	}
	return data, nil
}

// redact drops the query string, which carries signed download credentials.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
