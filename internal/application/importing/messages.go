package importing

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
)

const (
	SubjectCheckJob        = "pins.import.check"
	SubjectDownloadArchive = "pins.import.download"
	SubjectProcessBatch    = "pins.import.batch"
	SubjectAssignTags      = "pins.tagging.assign"
	SubjectEventPrefix     = "pins.import.events."
)

type CheckJobMessage struct {
	UserID       string `json:"user_id"`
	ArchiveJobID string `json:"archive_job_id"`
}

type DownloadArchiveMessage struct {
	UserID       string   `json:"user_id"`
	ArchiveJobID string   `json:"archive_job_id"`
	URLs         []string `json:"urls"`
}

type ProcessPinsBatchMessage struct {
	UserID       string         `json:"user_id"`
	ArchiveJobID string         `json:"archive_job_id"`
	BatchID      string         `json:"batch_id"`
	Records      []StarredPlace `json:"records"`
}

type AssignTagsToPinMessage struct {
	PinID string `json:"pin_id"`
}

// Envelope is an outbound message waiting in the outbox. ID doubles as the
// broker de-duplication key.
type Envelope struct {
	ID      string
	Subject string
	Payload []byte
}

func NewEnvelope(subject string, msg any) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s message: %w", subject, err)
	}
	return Envelope{ID: uuid.NewString(), Subject: subject, Payload: payload}, nil
}

func eventEnvelopes(events []domain.Event) ([]Envelope, error) {
	out := make([]Envelope, 0, len(events))
	for _, event := range events {
		env, err := NewEnvelope(SubjectEventPrefix+event.EventName(), event)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}
