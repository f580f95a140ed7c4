// Package models defines the catalog, reconciliation and job types shared by
// the MediaKeeper engine.
package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
)

// Location tags where a catalog entry lives.
type Location string

const (
	LocationLocal  Location = "local"
	LocationRemote Location = "remote"
)

// Valid reports whether l is a known location.
func (l Location) Valid() bool {
	return l == LocationLocal || l == LocationRemote
}

// ParseLocation converts user input into a Location.
func ParseLocation(s string) (Location, error) {
	l := Location(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown location %q: %w", s, common.ErrValidation)
	}
	return l, nil
}

// AssetKind classifies a side-file that travels with a media file.
type AssetKind string

const (
	AssetThumbnail  AssetKind = "thumbnail"
	AssetCaptions   AssetKind = "captions"
	AssetTranscript AssetKind = "transcript"
	AssetMetadata   AssetKind = "metadata"
)

// Asset is one side-file of an entry. RemoteObjectID is set for remote
// entries only.
type Asset struct {
	Kind           AssetKind `json:"kind"`
	Path           string    `json:"path"`
	Size           int64     `json:"size"`
	RemoteObjectID string    `json:"remote_object_id,omitempty"`
}

// Extra bag limits.
const (
	MaxExtraKeys  = 64
	MaxExtraBytes = 16 << 10
)

// CatalogEntry is one media item as seen from one location. A file present
// both locally and remotely is two entries sharing a Path.
type CatalogEntry struct {
	Identity       string            `json:"identity"`
	Location       Location          `json:"location"`
	Path           string            `json:"path"`
	Size           int64             `json:"size"`
	CreatedAt      time.Time         `json:"created_at"`
	ModifiedAt     time.Time         `json:"modified_at"`
	RemoteObjectID string            `json:"remote_object_id,omitempty"`
	Assets         []Asset           `json:"assets,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Key returns the unique catalog key of the entry.
func (e CatalogEntry) Key() string {
	return string(e.Location) + "\x00" + e.Identity
}

// Validate checks the entry before it is written anywhere.
func (e CatalogEntry) Validate() error {
	if e.Identity == "" {
		return fmt.Errorf("entry identity is empty: %w", common.ErrValidation)
	}
	if !e.Location.Valid() {
		return fmt.Errorf("entry %s: unknown location %q: %w", e.Identity, e.Location, common.ErrValidation)
	}
	if err := ValidatePath(e.Path); err != nil {
		return fmt.Errorf("entry %s: %w", e.Identity, err)
	}
	switch e.Location {
	case LocationRemote:
		if e.RemoteObjectID == "" {
			return fmt.Errorf("remote entry %s has no remote object id: %w", e.Identity, common.ErrValidation)
		}
	case LocationLocal:
		if e.RemoteObjectID != "" {
			return fmt.Errorf("local entry %s carries a remote object id: %w", e.Identity, common.ErrValidation)
		}
	}
	if e.Size < 0 {
		return fmt.Errorf("entry %s: negative size: %w", e.Identity, common.ErrValidation)
	}
	for _, a := range e.Assets {
		if err := ValidatePath(a.Path); err != nil {
			return fmt.Errorf("entry %s asset: %w", e.Identity, err)
		}
	}
	return ValidateExtra(e.Extra)
}

// ValidatePath accepts only clean, relative, slash-separated paths that stay
// inside the library root.
func ValidatePath(p string) error {
	switch {
	case p == "" || p == ".":
		return fmt.Errorf("path is empty: %w", common.ErrValidation)
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("path %q is absolute: %w", p, common.ErrValidation)
	case strings.Contains(p, "\\"):
		return fmt.Errorf("path %q contains a backslash: %w", p, common.ErrValidation)
	case path.Clean(p) != p:
		return fmt.Errorf("path %q is not normalized: %w", p, common.ErrValidation)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("path %q escapes the library: %w", p, common.ErrValidation)
		}
	}
	return nil
}

// ValidateExtra enforces the key count and byte size limits of the bag.
func ValidateExtra(extra map[string]string) error {
	if len(extra) > MaxExtraKeys {
		return fmt.Errorf("extra has %d keys, limit %d: %w", len(extra), MaxExtraKeys, common.ErrValidation)
	}
	total := 0
	for k, v := range extra {
		if k == "" {
			return fmt.Errorf("extra has an empty key: %w", common.ErrValidation)
		}
		total += len(k) + len(v)
	}
	if total > MaxExtraBytes {
		return fmt.Errorf("extra is %d bytes, limit %d: %w", total, MaxExtraBytes, common.ErrValidation)
	}
	return nil
}

// Clone returns a deep copy of e.
func (e CatalogEntry) Clone() CatalogEntry {
	c := e
	if e.Assets != nil {
		c.Assets = append([]Asset(nil), e.Assets...)
	}
	if e.Extra != nil {
		c.Extra = make(map[string]string, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Less orders entries by (Path, Identity).
func Less(a, b CatalogEntry) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.Identity < b.Identity
}
