package importing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
)

type GetImportStatusInput struct {
	UserID string
}

type ReportedPlaceOutput struct {
	MapsURL   string    `json:"maps_url"`
	AddedDate time.Time `json:"added_date"`
}

type GetImportStatusOutput struct {
	ID               string                `json:"id"`
	ArchiveJobID     string                `json:"archive_job_id"`
	State            string                `json:"state"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	Processed        int                   `json:"processed"`
	Created          int                   `json:"created"`
	Updated          int                   `json:"updated"`
	Failed           int                   `json:"failed"`
	Conflicts        int                   `json:"conflicts"`
	Total            int                   `json:"total"`
	ConflictedPlaces []ReportedPlaceOutput `json:"conflicted_places"`
	FailedPlaces     []ReportedPlaceOutput `json:"failed_places"`
}

type GetImportStatus interface {
	Execute(ctx context.Context, in GetImportStatusInput) (GetImportStatusOutput, error)
}

type getImportStatus struct {
	repo ImportRepository
}

func NewGetImportStatus(repo ImportRepository) GetImportStatus {
	return &getImportStatus{repo: repo}
}

// Execute returns the user's most recently started import.
func (uc *getImportStatus) Execute(ctx context.Context, in GetImportStatusInput) (GetImportStatusOutput, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return GetImportStatusOutput{}, ErrUserIDEmpty
	}

	imp, err := uc.repo.FindLatest(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrImportNotFound) {
			return GetImportStatusOutput{}, ErrImportNotFound
		}
		return GetImportStatusOutput{}, fmt.Errorf("%w: %v", ErrGetImportStatus, err)
	}

	return GetImportStatusOutput{
		ID:               imp.ID,
		ArchiveJobID:     imp.ArchiveJobID,
		State:            imp.State.String(),
		StartedAt:        imp.StartedAt,
		CompletedAt:      imp.CompletedAt,
		FailureReason:    imp.FailureReason,
		Processed:        imp.Processed,
		Created:          imp.Created,
		Updated:          imp.Updated,
		Failed:           imp.Failed,
		Conflicts:        imp.Conflicts,
		Total:            imp.Total,
		ConflictedPlaces: toReportedOutput(imp.ConflictedPlaces),
		FailedPlaces:     toReportedOutput(imp.FailedPlaces),
	}, nil
}

func toReportedOutput(places []domain.ReportedPlace) []ReportedPlaceOutput {
	out := make([]ReportedPlaceOutput, 0, len(places))
	for _, p := range places {
		out = append(out, ReportedPlaceOutput{MapsURL: p.MapsURL, AddedDate: p.AddedDate})
	}
	return out
}
