// Package snapshot serializes the remote half of the catalog into a single
// versioned artifact and moves that artifact to and from the object store.
//
// Layout of an artifact:
//
//	magic "MKSN" | u32 schema version | zstd(JSON document) | blake3-256
//
// The checksum covers everything before it, header included.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

const (
	magic       = "MKSN"
	headerLen   = 4 + 4
	checksumLen = 32

	// maxDecodedSize bounds the decompressed document.
	maxDecodedSize = 1 << 30
)

// State is the snapshot-level metadata stored next to the entries.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	PublishedAt   time.Time `json:"published_at"`
	Publisher     string    `json:"publisher,omitempty"`
	EntryCount    int       `json:"entry_count"`
}

type document struct {
	State   State                 `json:"state"`
	Entries []models.CatalogEntry `json:"entries"`
}

var (
	encoders = sync.Pool{New: func() any {
		return mustCodec(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
	}}
	decoders = sync.Pool{New: func() any {
		return mustCodec(zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize)))
	}}
)

// A bad codec option panics at startup rather than on the first snapshot.
func init() {
	encoders.Put(encoders.New())
	decoders.Put(decoders.New())
}

func mustCodec[T any](c T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("snapshot: zstd setup: %v", err))
	}
	return c
}

// Encode builds an artifact from remote entries. Entries are written sorted by
// (path, identity) so two encodes of the same set produce the same document.
func Encode(entries []models.CatalogEntry, st State) ([]byte, error) {
	return encodeVersion(entries, st, common.SchemaVersion)
}

func encodeVersion(entries []models.CatalogEntry, st State, version int) ([]byte, error) {
	sorted := make([]models.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Location != models.LocationRemote {
			return nil, fmt.Errorf("entry %s is %s, only remote entries are published: %w", e.Identity, e.Location, common.ErrValidation)
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		sorted = append(sorted, e)
	}
	slices.SortFunc(sorted, func(a, b models.CatalogEntry) int {
		switch {
		case models.Less(a, b):
			return -1
		case models.Less(b, a):
			return 1
		}
		return 0
	})

	st.SchemaVersion = version
	st.EntryCount = len(sorted)
	if !st.PublishedAt.IsZero() {
		st.PublishedAt = st.PublishedAt.UTC()
	}

	doc, err := json.Marshal(document{State: st, Entries: sorted})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	enc := encoders.Get().(*zstd.Encoder)
	defer encoders.Put(enc)

	buf := make([]byte, 0, headerLen+len(doc)/4+checksumLen)
	buf = append(buf, magic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(version))
	buf = enc.EncodeAll(doc, buf)
	sum := blake3.Sum256(buf)
	return append(buf, sum[:]...), nil
}

// Decode verifies and parses an artifact. A damaged artifact fails with
// common.ErrCorruptSnapshot; a version this build does not speak fails with
// common.ErrSchemaMismatch before anything is decompressed.
func Decode(data []byte) ([]models.CatalogEntry, State, error) {
	if len(data) < headerLen+checksumLen {
		return nil, State{}, fmt.Errorf("snapshot truncated (%d bytes): %w", len(data), common.ErrCorruptSnapshot)
	}
	if string(data[:4]) != magic {
		return nil, State{}, fmt.Errorf("snapshot has bad magic: %w", common.ErrCorruptSnapshot)
	}
	body := data[:len(data)-checksumLen]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], data[len(data)-checksumLen:]) {
		return nil, State{}, fmt.Errorf("snapshot checksum mismatch: %w", common.ErrCorruptSnapshot)
	}
	version := int(binary.LittleEndian.Uint32(body[4:headerLen]))
	if version != common.SchemaVersion {
		return nil, State{}, fmt.Errorf("snapshot schema version %d, supported %d: %w", version, common.SchemaVersion, common.ErrSchemaMismatch)
	}

	dec := decoders.Get().(*zstd.Decoder)
	defer decoders.Put(dec)

	raw, err := dec.DecodeAll(body[headerLen:], nil)
	if err != nil {
		return nil, State{}, fmt.Errorf("failed to decompress snapshot: %w: %w", common.ErrCorruptSnapshot, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, State{}, fmt.Errorf("failed to parse snapshot: %w: %w", common.ErrCorruptSnapshot, err)
	}
	if doc.State.SchemaVersion != version {
		return nil, State{}, fmt.Errorf("snapshot document version %d disagrees with header %d: %w",
			doc.State.SchemaVersion, version, common.ErrCorruptSnapshot)
	}

	seen := make(map[string]struct{}, len(doc.Entries))
	for _, e := range doc.Entries {
		if e.Location != models.LocationRemote {
			return nil, State{}, fmt.Errorf("snapshot carries %s entry %s: %w", e.Location, e.Identity, common.ErrCorruptSnapshot)
		}
		if err := e.Validate(); err != nil {
			return nil, State{}, fmt.Errorf("snapshot entry invalid: %v: %w", err, common.ErrCorruptSnapshot)
		}
		if _, dup := seen[e.Identity]; dup {
			return nil, State{}, fmt.Errorf("snapshot repeats identity %s: %w", e.Identity, common.ErrCorruptSnapshot)
		}
		seen[e.Identity] = struct{}{}
	}
	return doc.Entries, doc.State, nil
}
