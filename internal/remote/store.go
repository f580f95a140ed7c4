// Package remote is the object-store client used for media objects and the
// catalog snapshot. ObjectStore has an S3 implementation and an in-process
// one; Guarded adds worker-pool slots, per-call timeouts and bounded retry.
package remote

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("object precondition failed")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions are conditional-write headers. IfNoneMatch "*" writes only when
// the key does not exist yet; IfMatch writes only over that exact version.
type PutOptions struct {
	IfMatch     string
	IfNoneMatch string
	ContentType string
}

// ObjectStore is the verb set the engine needs from remote storage.
// Delete of a missing key succeeds.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Copy(ctx context.Context, src, dst string) error
}

var (
	_ ObjectStore = (*S3Store)(nil)
	_ ObjectStore = (*MemoryStore)(nil)
	_ ObjectStore = (*Guarded)(nil)
)
