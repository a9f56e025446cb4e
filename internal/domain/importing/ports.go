package importing

import "context"

// ConcurrencyPolicy is the advisory fast-path of the single-flight guard.
// The storage layer enforces the same rule with a unique partial index.
type ConcurrencyPolicy interface {
	CanStartImport(ctx context.Context, userID string) (bool, error)
}
