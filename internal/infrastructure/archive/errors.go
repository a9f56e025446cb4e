package archive

import (
	"errors"
	"fmt"
)

var (
	ErrMissingService       = errors.New("archive manifest lists no service")
	ErrMissingExtractedFile = errors.New("archive service has no extracted file")
	ErrFileNotFound         = errors.New("file not found in archive")
	ErrMalformedContent     = errors.New("malformed archive content")
	ErrArchiveTooLarge      = errors.New("archive exceeds size limit")
	ErrUnsupportedScheme    = errors.New("unsupported archive url scheme")
)

type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("download %s: %s", e.URL, e.Status)
}
