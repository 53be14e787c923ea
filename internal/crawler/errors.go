package crawler

import (
	"context"
	"errors"
)

// Sentinel errors forming the failure taxonomy. Callers classify with
// errors.Is; wrapping preserves the class.
var (
	// ErrTargetNotFound means the target's page resolved to a deleted or
	// private account. Fatal for the target, not for the run.
	ErrTargetNotFound = errors.New("target not found")

	// ErrItemNotFound means a detail page reported the item gone.
	ErrItemNotFound = errors.New("item not found")

	// ErrNavigation covers failed or timed-out navigation. Fatal for the
	// target only when it happens at the root navigation step.
	ErrNavigation = errors.New("navigation failed")

	// ErrSessionLost means the rendering session is unusable (browser died,
	// logged out). Fatal for the remaining batches of the current target.
	ErrSessionLost = errors.New("rendering session lost")

	// ErrNotFound signals a missing ledger record.
	ErrNotFound = errors.New("record not found")
)

// TargetFatal reports whether the error should abort the current target's
// crawl. Per-item errors are never target fatal; they are retained via the
// item's needs_update flag instead.
func TargetFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrSessionLost) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
