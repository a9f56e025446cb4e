package portability

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownArchiveState  = errors.New("unknown archive job state")
	ErrMissingArchiveJobID  = errors.New("provider returned no archive job id")
	ErrTokenNotFound        = errors.New("data portability token not found")
	ErrArchiveJobIDRequired = errors.New("archive job id is required")
)

// APIError is a non-2xx answer from the provider or the identity service.
type APIError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.URL, e.Status, e.Body)
}
