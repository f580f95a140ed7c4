package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

type memObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// MemoryStore is an in-process ObjectStore. Nothing survives the process.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	fault   func(op, key string) error
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), now: time.Now}
}

// SetFault installs a hook consulted before every call; a non-nil result is
// returned instead of performing the call. Pass nil to remove it.
func (m *MemoryStore) SetFault(fn func(op, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *MemoryStore) check(op, key string) error {
	m.mu.RLock()
	f := m.fault
	m.mu.RUnlock()
	if f != nil {
		return f(op, key)
	}
	return nil
}

func etagOf(data []byte) string {
	sum := blake3.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := m.check("list", prefix); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ObjectInfo
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(o.data)), ETag: o.etag, LastModified: o.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := m.check("stat", key); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, ErrObjectNotFound)
	}
	return ObjectInfo{Key: key, Size: int64(len(o.data)), ETag: o.etag, LastModified: o.modified}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := m.check("get", key); err != nil {
		return nil, ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
	}
	info := ObjectInfo{Key: key, Size: int64(len(o.data)), ETag: o.etag, LastModified: o.modified}
	return io.NopCloser(bytes.NewReader(o.data)), info, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (ObjectInfo, error) {
	if err := m.check("put", key); err != nil {
		return ObjectInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return ObjectInfo{}, fmt.Errorf("put %s: read %d bytes, declared %d", key, len(data), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.objects[key]
	if opts.IfNoneMatch == "*" && exists {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}
	if opts.IfMatch != "" && (!exists || cur.etag != opts.IfMatch) {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}

	o := memObject{data: data, etag: etagOf(data), modified: m.now().UTC()}
	m.objects[key] = o
	return ObjectInfo{Key: key, Size: int64(len(data)), ETag: o.etag, LastModified: o.modified}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := m.check("delete", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, src, dst string) error {
	if err := m.check("copy", src); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[src]
	if !ok {
		return fmt.Errorf("copy %s: %w", src, ErrObjectNotFound)
	}
	o.modified = m.now().UTC()
	m.objects[dst] = o
	return nil
}
