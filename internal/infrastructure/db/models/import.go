package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
)

type Import struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	UserID           string `gorm:"type:text;not null;index;uniqueIndex:ux_imports_user_in_progress,where:state = 'in_progress'"`
	ArchiveJobID     string `gorm:"type:text;not null;index"`
	State            string `gorm:"type:text;not null;index"`
	PeriodStart      time.Time
	PeriodEnd        time.Time
	StartedAt        *time.Time `gorm:"index"`
	CompletedAt      *time.Time
	FailureReason    string         `gorm:"type:text;not null;default:''"`
	Processed        int            `gorm:"not null;default:0"`
	Created          int            `gorm:"not null;default:0"`
	Updated          int            `gorm:"not null;default:0"`
	Failed           int            `gorm:"not null;default:0"`
	Conflicts        int            `gorm:"not null;default:0"`
	Total            int            `gorm:"not null;default:0"`
	ConflictedPlaces datatypes.JSON `gorm:"not null"`
	FailedPlaces     datatypes.JSON `gorm:"not null"`
	Version          int64          `gorm:"not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Import) TableName() string {
	return "imports"
}

type reportedPlace struct {
	MapsURL   string    `json:"maps_url"`
	AddedDate time.Time `json:"added_date"`
}

func NewImport(imp *domain.Import) (Import, error) {
	conflicted, err := encodePlaces(imp.ConflictedPlaces)
	if err != nil {
		return Import{}, err
	}
	failed, err := encodePlaces(imp.FailedPlaces)
	if err != nil {
		return Import{}, err
	}

	return Import{
		ID:               imp.ID,
		UserID:           imp.UserID,
		ArchiveJobID:     imp.ArchiveJobID,
		State:            imp.State.String(),
		PeriodStart:      imp.Period.Start,
		PeriodEnd:        imp.Period.End,
		StartedAt:        imp.StartedAt,
		CompletedAt:      imp.CompletedAt,
		FailureReason:    imp.FailureReason,
		Processed:        imp.Processed,
		Created:          imp.Created,
		Updated:          imp.Updated,
		Failed:           imp.Failed,
		Conflicts:        imp.Conflicts,
		Total:            imp.Total,
		ConflictedPlaces: conflicted,
		FailedPlaces:     failed,
		Version:          imp.Version,
	}, nil
}

// Mutable returns the columns a transition may change, keyed by column name.
func (m Import) Mutable() map[string]any {
	return map[string]any{
		"state":             m.State,
		"completed_at":      m.CompletedAt,
		"failure_reason":    m.FailureReason,
		"processed":         m.Processed,
		"created":           m.Created,
		"updated":           m.Updated,
		"failed":            m.Failed,
		"conflicts":         m.Conflicts,
		"total":             m.Total,
		"conflicted_places": m.ConflictedPlaces,
		"failed_places":     m.FailedPlaces,
	}
}

func (m Import) ToDomain() (*domain.Import, error) {
	state, err := domain.ParseState(m.State)
	if err != nil {
		return nil, err
	}
	conflicted, err := decodePlaces(m.ConflictedPlaces)
	if err != nil {
		return nil, fmt.Errorf("decode conflicted places: %w", err)
	}
	failed, err := decodePlaces(m.FailedPlaces)
	if err != nil {
		return nil, fmt.Errorf("decode failed places: %w", err)
	}

	return &domain.Import{
		ID:               m.ID,
		UserID:           m.UserID,
		Period:           domain.Period{Start: m.PeriodStart.UTC(), End: m.PeriodEnd.UTC()},
		ArchiveJobID:     m.ArchiveJobID,
		State:            state,
		StartedAt:        utcPtr(m.StartedAt),
		CompletedAt:      utcPtr(m.CompletedAt),
		FailureReason:    m.FailureReason,
		Processed:        m.Processed,
		Created:          m.Created,
		Updated:          m.Updated,
		Failed:           m.Failed,
		Conflicts:        m.Conflicts,
		Total:            m.Total,
		ConflictedPlaces: conflicted,
		FailedPlaces:     failed,
		Version:          m.Version,
	}, nil
}

func encodePlaces(places []domain.ReportedPlace) (datatypes.JSON, error) {
	rows := make([]reportedPlace, 0, len(places))
	for _, p := range places {
		rows = append(rows, reportedPlace{MapsURL: p.MapsURL, AddedDate: p.AddedDate})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode reported places: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodePlaces(raw datatypes.JSON) ([]domain.ReportedPlace, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []reportedPlace
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	places := make([]domain.ReportedPlace, 0, len(rows))
	for _, r := range rows {
		places = append(places, domain.ReportedPlace{MapsURL: r.MapsURL, AddedDate: r.AddedDate})
	}
	return places, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
