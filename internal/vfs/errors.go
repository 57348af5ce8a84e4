package vfs

import (
	"errors"
	"fmt"

	"zmfs/internal/connection"
)

var (
	ErrNotFound     = errors.New("entry not found")
	ErrExists       = errors.New("entry already exists")
	ErrIsDirectory  = errors.New("entry is a directory")
	ErrNotDirectory = fmt.Errorf("entry is not a directory: %w", ErrNotFound)
	ErrCrossProfile = errors.New("source and destination are on different profiles")
	ErrNoConflict   = errors.New("entry has no pending conflict")
)

// ConflictError reports a write rejected because the remote copy changed
// since it was last read. The rejected bytes are kept on the entry until
// the conflict is resolved.
type ConflictError struct {
	URI string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: remote content changed since last read: %v", e.URI, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool {
	return target == connection.ErrPreconditionFailed
}

// notFound marks a failed resolution as absent while keeping the remote
// cause reachable through errors.As.
func notFound(uri string, cause error) error {
	if cause == nil || errors.Is(cause, ErrNotFound) {
		return fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", uri, ErrNotFound, cause)
}
