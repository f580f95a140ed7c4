package common

import (
	"context"
	"errors"
)

// ErrorKind is the machine-readable classification stored with failed jobs.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindTransient         ErrorKind = "transient"
	KindSchemaMismatch    ErrorKind = "schema_mismatch"
	KindForceRequired     ErrorKind = "force_required"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
	KindCancelled         ErrorKind = "cancelled"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindCorrupt           ErrorKind = "corrupt"
	KindInterrupted       ErrorKind = "interrupted"
	KindInternal          ErrorKind = "internal"
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrValidation, KindValidation},
	{ErrUnknownJobType, KindValidation},
	{ErrSchemaMismatch, KindSchemaMismatch},
	{ErrForceRequired, KindForceRequired},
	{ErrSnapshotConflict, KindConflict},
	{ErrSnapshotNotFound, KindNotFound},
	{ErrNotFound, KindNotFound},
	{ErrCancelled, KindCancelled},
	{ErrResourceExhausted, KindResourceExhausted},
	{ErrCorruptCatalog, KindCorrupt},
	{ErrCorruptSnapshot, KindCorrupt},
	{ErrInterrupted, KindInterrupted},
	{ErrRemoteTransient, KindTransient},
	{context.DeadlineExceeded, KindTransient},
}

// KindOf classifies err. Order matters: the more specific sentinels are
// checked first, so a transient error that ended in a guard violation is
// still reported as the guard violation.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
