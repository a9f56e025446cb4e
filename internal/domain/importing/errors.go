package importing

import "errors"

var (
	ErrArchiveJobIDEmpty    = errors.New("archive job id cannot be empty")
	ErrImportAlreadyStarted = errors.New("import already started or finished")
	ErrImportNotInProgress  = errors.New("import is not in progress")
	ErrFailureReasonEmpty   = errors.New("failure reason cannot be empty")
	ErrNegativeBatchCounter = errors.New("batch counters must be non-negative")
	ErrInvalidPeriod        = errors.New("period start must be earlier than end")
	ErrImportNotFound       = errors.New("import not found")
	ErrConcurrencyConflict  = errors.New("import was modified concurrently")
)
