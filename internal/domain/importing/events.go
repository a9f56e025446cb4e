package importing

import "time"

// Event is a fact raised by an Import transition. Events are buffered on the
// aggregate until the caller has durably recorded them.
type Event interface {
	EventName() string
	AggregateID() string
}

type eventBase struct {
	ImportID   string    `json:"import_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e eventBase) AggregateID() string { return e.ImportID }

type ImportStarted struct {
	eventBase
	UserID       string `json:"user_id"`
	ArchiveJobID string `json:"archive_job_id"`
}

func (ImportStarted) EventName() string { return "import_started" }

// ImportBatchProcessed carries the deltas of one batch, not the running totals.
type ImportBatchProcessed struct {
	eventBase
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

func (ImportBatchProcessed) EventName() string { return "import_batch_processed" }

type ImportCompleted struct {
	eventBase
}

func (ImportCompleted) EventName() string { return "import_completed" }

type ImportFailed struct {
	eventBase
	Reason string `json:"reason"`
}

func (ImportFailed) EventName() string { return "import_failed" }

type ImportCancelled struct {
	eventBase
}

func (ImportCancelled) EventName() string { return "import_cancelled" }
