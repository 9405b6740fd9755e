package crawler

import "errors"

var (
	// ErrMissingIdentifier indicates the URL carries no item identifier.
	ErrMissingIdentifier = errors.New("missing item identifier")
	// ErrRecordNotFound indicates the store has no record for the identifier.
	ErrRecordNotFound = errors.New("record not found")
	// ErrNavigation indicates a navigation exhausted its retry budget.
	ErrNavigation = errors.New("navigation failed")
	// ErrBatchAborted wraps the cause when an archive run stops early.
	ErrBatchAborted = errors.New("archive run aborted")
)

// permanent errors are never retried by RetryPolicy.Do.
func permanent(err error) bool {
	return errors.Is(err, ErrMissingIdentifier) || errors.Is(err, ErrRecordNotFound)
}
