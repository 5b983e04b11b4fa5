package capsule_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrRateLimited     = errors.New("rate limited")
	ErrMissingCallerID = errors.New("user id is required")
	ErrTooLarge        = errors.New("file too large")
	ErrUpstream        = errors.New("upstream storage error")
)

// UpstreamError reports a failure of the blob storage provider. Status carries
// the provider's HTTP status when known, 0 otherwise. Local state is never
// mutated once one of these is returned.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Upstream wraps err as an UpstreamError for operation op.
func Upstream(op string, status int, err error) error {
	return &UpstreamError{Op: op, Status: status, Err: err}
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}
