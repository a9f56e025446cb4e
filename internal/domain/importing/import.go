package importing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportedPlace cites an export record that was skipped as a conflict or a
// failure so an operator can find it again.
type ReportedPlace struct {
	MapsURL   string    `json:"maps_url"`
	AddedDate time.Time `json:"added_date"`
}

// Import is one attempt to merge a user's exported starred places into their
// pin inventory. Fields are exported for persistence mapping; all state
// changes go through the transition methods.
type Import struct {
	ID            string
	UserID        string
	Period        Period
	ArchiveJobID  string
	State         State
	StartedAt     *time.Time
	CompletedAt   *time.Time
	FailureReason string

	Processed int
	Created   int
	Updated   int
	Failed    int
	Conflicts int
	Total     int

	ConflictedPlaces []ReportedPlace
	FailedPlaces     []ReportedPlace

	// Version is the optimistic concurrency token assigned by the store.
	Version int64

	events []Event
	now    func() time.Time
}

func NewImport(userID string, period Period) *Import {
	return &Import{
		ID:     uuid.NewString(),
		UserID: userID,
		Period: period,
		State:  StateUnspecified,
	}
}

func (i *Import) Start(ctx context.Context, archiveJobID string, policy ConcurrencyPolicy) error {
	if strings.TrimSpace(archiveJobID) == "" {
		return ErrArchiveJobIDEmpty
	}
	if i.State != StateUnspecified {
		return fmt.Errorf("%w: %s", ErrImportAlreadyStarted, i.State)
	}

	allowed, err := policy.CanStartImport(ctx, i.UserID)
	if err != nil {
		return fmt.Errorf("check import concurrency policy: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: user %s has an import in progress", ErrImportAlreadyStarted, i.UserID)
	}

	now := i.clock()
	i.State = StateInProgress
	i.ArchiveJobID = archiveJobID
	i.StartedAt = &now

	i.raise(ImportStarted{
		eventBase:    i.base(now),
		UserID:       i.UserID,
		ArchiveJobID: archiveJobID,
	})
	return nil
}

func (i *Import) AppendBatch(processed, created, updated, failed, conflicts int) error {
	if i.State != StateInProgress {
		return fmt.Errorf("%w: %s", ErrImportNotInProgress, i.State)
	}
	if processed < 0 || created < 0 || updated < 0 || failed < 0 || conflicts < 0 {
		return ErrNegativeBatchCounter
	}

	i.Processed += processed
	i.Created += created
	i.Updated += updated
	i.Failed += failed
	i.Conflicts += conflicts

	i.raise(ImportBatchProcessed{
		eventBase: i.base(i.clock()),
		Processed: processed,
		Created:   created,
		Updated:   updated,
		Failed:    failed,
		Conflicts: conflicts,
	})
	return nil
}

// TryComplete moves the import to Complete once every expected record has
// been processed. It reports false, without error, while records remain.
func (i *Import) TryComplete() (bool, error) {
	if i.Processed < i.Total {
		return false, nil
	}
	if i.State != StateInProgress {
		return false, fmt.Errorf("%w: %s", ErrImportNotInProgress, i.State)
	}

	now := i.clock()
	i.State = StateComplete
	i.CompletedAt = &now
	i.raise(ImportCompleted{eventBase: i.base(now)})
	return true, nil
}

func (i *Import) Fail(reason string) error {
	if i.State != StateInProgress {
		return fmt.Errorf("%w: %s", ErrImportNotInProgress, i.State)
	}
	if strings.TrimSpace(reason) == "" {
		return ErrFailureReasonEmpty
	}

	now := i.clock()
	i.State = StateFailed
	i.CompletedAt = &now
	i.FailureReason = reason
	i.raise(ImportFailed{eventBase: i.base(now), Reason: reason})
	return nil
}

func (i *Import) Cancel() error {
	if i.State != StateInProgress {
		return fmt.Errorf("%w: %s", ErrImportNotInProgress, i.State)
	}

	now := i.clock()
	i.State = StateCancelled
	i.CompletedAt = &now
	i.raise(ImportCancelled{eventBase: i.base(now)})
	return nil
}

// UpdateTotal adds count to the expected record total. It is ignored unless
// the import is in progress.
func (i *Import) UpdateTotal(count int) {
	if i.State != StateInProgress || count < 0 {
		return
	}
	i.Total += count
}

func (i *Import) ReportConflictsAndFailures(conflicts, failures []ReportedPlace) {
	i.ConflictedPlaces = append(i.ConflictedPlaces, conflicts...)
	i.FailedPlaces = append(i.FailedPlaces, failures...)
}

// PendingEvents returns a copy of the events raised since the last
// acknowledgement.
func (i *Import) PendingEvents() []Event {
	out := make([]Event, len(i.events))
	copy(out, i.events)
	return out
}

// AcknowledgeEvents drops the first n pending events once the caller has
// durably recorded them.
func (i *Import) AcknowledgeEvents(n int) {
	if n <= 0 {
		return
	}
	if n >= len(i.events) {
		i.events = nil
		return
	}
	i.events = append([]Event(nil), i.events[n:]...)
}

// SetClock overrides the time source used for transition timestamps.
func (i *Import) SetClock(now func() time.Time) {
	i.now = now
}

func (i *Import) raise(event Event) {
	i.events = append(i.events, event)
}

func (i *Import) base(at time.Time) eventBase {
	return eventBase{ImportID: i.ID, OccurredAt: at}
}

func (i *Import) clock() time.Time {
	if i.now != nil {
		return i.now().UTC()
	}
	return time.Now().UTC()
}
