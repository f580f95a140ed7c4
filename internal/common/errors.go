package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Validation errors are rejected synchronously and never reach the job system.
	ErrValidation     = errors.New("validation error")
	ErrUnknownJobType = errors.New("unknown job type")

	// Catalog / snapshot integrity errors.
	ErrSchemaMismatch  = errors.New("schema version mismatch")
	ErrCorruptCatalog  = errors.New("catalog store is corrupt or unreadable")
	ErrCorruptSnapshot = errors.New("snapshot artifact is corrupt")

	// Reconciliation guard errors.
	ErrForceRequired    = errors.New("remote snapshot exists but was never imported; force required")
	ErrSnapshotConflict = errors.New("remote snapshot changed since last import or publish")
	ErrSnapshotNotFound = errors.New("remote snapshot not found")

	// Remote store errors.
	ErrRemoteTransient = errors.New("transient remote failure")

	// Job lifecycle errors.
	ErrCancelled         = errors.New("cancelled")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrInterrupted       = errors.New("interrupted by process restart")

	// Worker pool errors.
	ErrResourceExhausted = errors.New("worker pool saturated")
)
