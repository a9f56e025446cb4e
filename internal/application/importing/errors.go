package importing

import "errors"

var (
	ErrUserIDEmpty           = errors.New("user id cannot be empty")
	ErrStartImport           = errors.New("failed to start import")
	ErrRunningImportNotFound = errors.New("no running import found")
	ErrImportNotFound        = errors.New("import not found")
	ErrGetImportStatus       = errors.New("failed to get import status")
	ErrBatchAlreadyApplied   = errors.New("batch already applied")
)
