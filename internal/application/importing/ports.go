package importing

import (
	"context"
	"time"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/domain/pin"
)

type ArchiveJobState int

const (
	ArchiveInProgress ArchiveJobState = iota + 1
	ArchiveComplete
	ArchiveFailed
	ArchiveCancelled
)

func (s ArchiveJobState) String() string {
	switch s {
	case ArchiveInProgress:
		return "in_progress"
	case ArchiveComplete:
		return "complete"
	case ArchiveFailed:
		return "failed"
	case ArchiveCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ArchiveJobStatus is the provider's view of an export job. URLs is only
// populated once the job is complete: metadata archive first, data archive
// second.
type ArchiveJobStatus struct {
	State ArchiveJobState
	URLs  []string
}

type ArchiveService interface {
	Initiate(ctx context.Context, period domain.Period) (string, error)
	CheckJob(ctx context.Context, archiveJobID string) (ArchiveJobStatus, error)
	Cancel(ctx context.Context, archiveJobID string) error
	DisposeDataArchives(ctx context.Context) error
}

// ArchiveServiceFactory builds a client acting on behalf of userID.
type ArchiveServiceFactory interface {
	Create(ctx context.Context, userID string) (ArchiveService, error)
}

// StarredPlace is one record of an exported saved-places file.
type StarredPlace struct {
	Name        *string   `json:"name,omitempty"`
	MapsURL     string    `json:"maps_url"`
	Address     *string   `json:"address,omitempty"`
	CountryCode *string   `json:"country_code,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	AddedDate   time.Time `json:"added_date"`
	Comment     *string   `json:"comment,omitempty"`
}

type ArchiveDownloader interface {
	Download(ctx context.Context, metadataURL, dataURL string) ([]StarredPlace, error)
}

// ImportRepository persists the aggregate together with the outbox envelopes
// produced by the same transition.
//
// Save rejects a stale Version with domain.ErrConcurrencyConflict and bumps
// imp.Version on success. Add and Save return domain.ErrImportAlreadyStarted
// when the user already has an import in progress.
type ImportRepository interface {
	Add(ctx context.Context, imp *domain.Import, envelopes ...Envelope) error
	Save(ctx context.Context, imp *domain.Import, envelopes ...Envelope) error
	FindInProgress(ctx context.Context, userID, archiveJobID string) (*domain.Import, error)
	FindLatest(ctx context.Context, userID string) (*domain.Import, error)
	ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Import, error)
}

type PinRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*pin.Pin, error)
}

// BatchCommit is everything one processed batch writes.
type BatchCommit struct {
	Import    *domain.Import
	BatchID   string
	Pins      []*pin.Pin
	Envelopes []Envelope
}

// BatchCommitter writes a BatchCommit in one transaction. It returns
// ErrBatchAlreadyApplied when BatchID was committed before.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, commit BatchCommit) error
}
