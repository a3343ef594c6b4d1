package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the scheduling engine. Constraint failures are not
// errors; they surface as violations on the response. Only structural and
// upstream failures use these sentinels.
var (
	// ErrInvalidInput marks a malformed request (empty date range, negative
	// duration). Surfaced as a 4xx-equivalent.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict marks an optimistic-concurrency failure during persist.
	ErrConflict = errors.New("schedule version conflict")

	// ErrCancelled marks a caller-initiated or timeout cancellation. The
	// best-so-far result accompanies it on the response.
	ErrCancelled = errors.New("optimization cancelled")

	// ErrRepository marks an upstream store failure. Transient; callers may
	// retry.
	ErrRepository = errors.New("repository failure")

	// ErrInvariantViolation marks an internal bug such as a malformed
	// schedule reaching the checker.
	ErrInvariantViolation = errors.New("schedule invariant violated")

	// ErrBusy is returned when the bounded request queue is full.
	ErrBusy = errors.New("scheduler busy")
)

// RepositoryError wraps an upstream failure with its operation name so the
// facade can log and classify it.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the ErrRepository classification and the underlying
// cause, so errors.Is matches either.
func (e *RepositoryError) Unwrap() []error { return []error{ErrRepository, e.Err} }

// NewRepositoryError wraps err as a repository failure for operation op.
func NewRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: err}
}
