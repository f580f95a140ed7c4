package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/pool"
)

func newIndexer(t *testing.T, files map[string]string) (*Indexer, *catalog.Store, billy.Filesystem) {
	t.Helper()
	lib, fsys := newLibrary(t, files)
	cat, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), pool.New("catalog", 2, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return NewIndexer(lib, cat, nil), cat, fsys
}

func localPaths(t *testing.T, cat *catalog.Store) []string {
	t.Helper()
	all, err := cat.ListAll(context.Background(), models.LocationLocal)
	require.NoError(t, err)
	out := make([]string, 0, len(all))
	for _, e := range all {
		out = append(out, e.Path)
	}
	return out
}

func TestBootstrap_ReplacesLocalRowsOnly(t *testing.T) {
	ix, cat, _ := newIndexer(t, map[string]string{"a.mp4": "1", "b.mkv": "2"})
	ctx := context.Background()

	stale := models.CatalogEntry{Identity: LocalIdentity("gone.mp4"), Location: models.LocationLocal, Path: "gone.mp4"}
	require.NoError(t, cat.Upsert(ctx, stale))
	r := models.CatalogEntry{Identity: "library/x.mp4", Location: models.LocationRemote, Path: "x.mp4", RemoteObjectID: "library/x.mp4"}
	require.NoError(t, cat.Upsert(ctx, r))

	n, err := ix.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a.mp4", "b.mkv"}, localPaths(t, cat))

	_, err = cat.Get(ctx, models.LocationRemote, "library/x.mp4")
	require.NoError(t, err)

	st, err := cat.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastLocalBootstrapAt)
}

func TestBootstrapOnce(t *testing.T) {
	ix, cat, fsys := newIndexer(t, map[string]string{"a.mp4": "1"})
	ctx := context.Background()

	ran, err := ix.BootstrapOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	require.NoError(t, util.WriteFile(fsys, "b.mp4", []byte("2"), 0o644))
	ran, err = ix.BootstrapOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, []string{"a.mp4"}, localPaths(t, cat))
}

func TestFileLanded(t *testing.T) {
	ix, cat, fsys := newIndexer(t, map[string]string{"v/clip.mp4": "abc"})
	ctx := context.Background()

	e, err := ix.FileLanded(ctx, "v/clip.mp4")
	require.NoError(t, err)
	assert.Empty(t, e.Assets)

	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	stored, err := cat.Get(ctx, models.LocationLocal, e.Identity)
	require.NoError(t, err)
	stored.CreatedAt = created
	stored.Extra = map[string]string{"share": "on"}
	require.NoError(t, cat.Upsert(ctx, *stored))

	require.NoError(t, util.WriteFile(fsys, "v/clip.jpg", []byte("img"), 0o644))
	e, err = ix.FileLanded(ctx, "v/clip.jpg")
	require.NoError(t, err)
	assert.Equal(t, "v/clip.mp4", e.Path)
	require.Len(t, e.Assets, 1)
	assert.Equal(t, created, e.CreatedAt, "creation time survives refresh")
	assert.Equal(t, "on", e.Extra["share"])

	_, err = ix.FileLanded(ctx, "v/lonely.txt")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = ix.FileLanded(ctx, "/abs.mp4")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestRenamed(t *testing.T) {
	ix, cat, fsys := newIndexer(t, map[string]string{"old.mp4": "abc"})
	ctx := context.Background()
	_, err := ix.FileLanded(ctx, "old.mp4")
	require.NoError(t, err)

	require.NoError(t, util.WriteFile(fsys, "dir/new.mp4", []byte("abc"), 0o644))
	require.NoError(t, fsys.Remove("old.mp4"))
	e, err := ix.Renamed(ctx, "old.mp4", "dir/new.mp4")
	require.NoError(t, err)
	assert.Equal(t, LocalIdentity("dir/new.mp4"), e.Identity)
	assert.Equal(t, []string{"dir/new.mp4"}, localPaths(t, cat))
}

func TestDeleted(t *testing.T) {
	ix, cat, fsys := newIndexer(t, map[string]string{"a.mp4": "1", "a.srt": "s", "b.mp4": "2"})
	ctx := context.Background()
	_, err := ix.Bootstrap(ctx)
	require.NoError(t, err)

	require.NoError(t, fsys.Remove("a.srt"))
	require.NoError(t, ix.Deleted(ctx, "a.srt"))
	e, err := cat.Get(ctx, models.LocationLocal, LocalIdentity("a.mp4"))
	require.NoError(t, err)
	assert.Empty(t, e.Assets)

	require.NoError(t, ix.Deleted(ctx, "b.mp4"))
	require.NoError(t, ix.Deleted(ctx, "b.mp4"), "idempotent")
	assert.Equal(t, []string{"a.mp4"}, localPaths(t, cat))
}

func TestBatchDeleted_ValidatesFirst(t *testing.T) {
	ix, cat, _ := newIndexer(t, map[string]string{"a.mp4": "1", "b.mp4": "2"})
	ctx := context.Background()
	_, err := ix.Bootstrap(ctx)
	require.NoError(t, err)

	err = ix.BatchDeleted(ctx, []string{"a.mp4", "../b.mp4"})
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, localPaths(t, cat))

	require.NoError(t, ix.BatchDeleted(ctx, []string{"a.mp4", "b.mp4"}))
	assert.Empty(t, localPaths(t, cat))
}
