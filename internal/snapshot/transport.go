package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/remote"
)

// MaxArtifactSize is the largest snapshot Fetch accepts.
const MaxArtifactSize = 256 << 20

const contentType = "application/vnd.mediakeeper.snapshot"

// Precondition makes Store conditional. The zero value writes
// unconditionally.
type Precondition struct {
	// IfMatch writes only over the artifact with this etag.
	IfMatch string
	// IfAbsent writes only when no artifact exists.
	IfAbsent bool
}

// Transport moves the snapshot artifact to and from its well-known key.
type Transport struct {
	store remote.ObjectStore
	key   string
}

func NewTransport(store remote.ObjectStore, key string) *Transport {
	return &Transport{store: store, key: key}
}

// Key returns the object key of the artifact.
func (t *Transport) Key() string { return t.key }

// Fetch downloads the artifact and returns it with its etag.
func (t *Transport) Fetch(ctx context.Context) ([]byte, string, error) {
	body, info, err := t.store.Get(ctx, t.key)
	if err != nil {
		if errors.Is(err, remote.ErrObjectNotFound) {
			return nil, "", fmt.Errorf("%s: %w", t.key, common.ErrSnapshotNotFound)
		}
		return nil, "", fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer body.Close()

	if info.Size > MaxArtifactSize {
		return nil, "", fmt.Errorf("snapshot is %d bytes, limit %d: %w", info.Size, MaxArtifactSize, common.ErrCorruptSnapshot)
	}
	data, err := io.ReadAll(io.LimitReader(body, MaxArtifactSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read snapshot: %w: %w", common.ErrRemoteTransient, err)
	}
	if len(data) > MaxArtifactSize {
		return nil, "", fmt.Errorf("snapshot exceeds %d bytes: %w", MaxArtifactSize, common.ErrCorruptSnapshot)
	}
	return data, info.ETag, nil
}

// Stat reports whether an artifact exists and its current etag.
func (t *Transport) Stat(ctx context.Context) (string, bool, error) {
	info, err := t.store.Stat(ctx, t.key)
	if err != nil {
		if errors.Is(err, remote.ErrObjectNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	return info.ETag, true, nil
}

// Store uploads data and returns the new etag. A failed precondition is
// reported as common.ErrSnapshotConflict.
func (t *Transport) Store(ctx context.Context, data []byte, pre Precondition) (string, error) {
	opts := remote.PutOptions{IfMatch: pre.IfMatch, ContentType: contentType}
	if pre.IfAbsent {
		opts.IfNoneMatch = "*"
	}

	info, err := t.store.Put(ctx, t.key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		if errors.Is(err, remote.ErrPreconditionFailed) {
			return "", fmt.Errorf("%s: %w", t.key, common.ErrSnapshotConflict)
		}
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	return info.ETag, nil
}
