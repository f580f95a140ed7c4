package reconcile

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/pool"
	"github.com/dmitrijs2005/mediakeeper/internal/remote"
	jobsrepo "github.com/dmitrijs2005/mediakeeper/internal/repositories/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/snapshot"
)

const (
	prefix  = "library/"
	snapKey = ".mediakeeper/catalog.snapshot"
)

type machine struct {
	cat  *catalog.Store
	svc  *Service
	orch *jobs.Orchestrator
}

func newMachine(t *testing.T, store remote.ObjectStore, opts Options) *machine {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"), pool.New("catalog", 2, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	orch, err := jobs.New(ctx, jobsrepo.NewMemoryRepository(), jobs.Config{TransferJobs: 1, MutationJobs: 1}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	if opts.RemotePrefix == "" {
		opts.RemotePrefix = prefix
	}
	svc := New(cat, snapshot.NewTransport(store, snapKey), store, orch, opts, nil, nil)
	return &machine{cat: cat, svc: svc, orch: orch}
}

func remoteEntry(p string) models.CatalogEntry {
	key := prefix + p
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.CatalogEntry{Identity: key, Location: models.LocationRemote, Path: p, RemoteObjectID: key, Size: 10, CreatedAt: ts, ModifiedAt: ts}
}

func localEntry(p string) models.CatalogEntry {
	return models.CatalogEntry{Identity: "fp-" + p, Location: models.LocationLocal, Path: p, Size: 10}
}

func seedSnapshot(t *testing.T, store remote.ObjectStore, n int) []models.CatalogEntry {
	t.Helper()
	items := make([]models.CatalogEntry, 0, n)
	for i := range n {
		items = append(items, remoteEntry(fmt.Sprintf("clips/%03d.mp4", i)))
	}
	data, err := snapshot.Encode(items, snapshot.State{Publisher: "other"})
	require.NoError(t, err)
	_, err = store.Put(context.Background(), snapKey, bytes.NewReader(data), int64(len(data)), remote.PutOptions{})
	require.NoError(t, err)
	return items
}

func identities(entries []models.CatalogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Identity)
	}
	return out
}

func remoteCount(t *testing.T, cat *catalog.Store) int {
	t.Helper()
	st, err := cat.State(context.Background())
	require.NoError(t, err)
	return st.Counts.Remote
}

func TestPublish_GuardIsIdempotent(t *testing.T) {
	store := remote.NewMemoryStore()
	seedSnapshot(t, store, 3)
	m := newMachine(t, store, Options{})
	ctx := context.Background()

	for range 2 {
		_, err := m.svc.Publish(ctx, false)
		require.ErrorIs(t, err, common.ErrForceRequired)
		assert.Equal(t, common.KindForceRequired, common.KindOf(err))
	}
	for range 2 {
		_, err := m.svc.Publish(ctx, true)
		require.NoError(t, err)
	}
}

func TestFreshMachine_ImportThenPublish(t *testing.T) {
	store := remote.NewMemoryStore()
	seeded := seedSnapshot(t, store, 50)
	m := newMachine(t, store, Options{})
	ctx := context.Background()

	assert.Equal(t, warnNeverPopulated, m.svc.Status(ctx).Warning)
	sum := m.svc.SyncStatus(ctx)
	assert.Equal(t, 0, sum.RemoteOnly)
	assert.Equal(t, warnNeverPopulated, sum.Warning)

	_, err := m.svc.Publish(ctx, false)
	require.ErrorIs(t, err, common.ErrForceRequired)

	res, err := m.svc.Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Entries)
	assert.Equal(t, 50, remoteCount(t, m.cat))

	all, err := m.cat.ListAll(ctx, models.LocationRemote)
	require.NoError(t, err)
	assert.Equal(t, identities(seeded), identities(all))

	_, err = m.svc.Publish(ctx, false)
	require.NoError(t, err)

	st := m.svc.Status(ctx)
	assert.Empty(t, st.Warning)
	assert.NotNil(t, st.LastImportedAt)
	assert.NotNil(t, st.LastPublishedAt)
	assert.Equal(t, 50, m.svc.SyncStatus(ctx).RemoteOnly)
}

func TestPublish_NoArtifactNeedsNoImport(t *testing.T) {
	store := remote.NewMemoryStore()
	m := newMachine(t, store, Options{})
	ctx := context.Background()
	require.NoError(t, m.cat.Upsert(ctx, remoteEntry("a.mp4")))

	res, err := m.svc.Publish(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entries)

	_, err = m.svc.Publish(ctx, false)
	require.NoError(t, err, "the artifact this catalog published is known to it")
}

func TestPublish_WritesOnlyRemoteEntries(t *testing.T) {
	store := remote.NewMemoryStore()
	m := newMachine(t, store, Options{})
	ctx := context.Background()

	var want []models.CatalogEntry
	for _, p := range []string{"a/one.mp4", "b/two.mp4", "c/three.mp4"} {
		e := remoteEntry(p)
		require.NoError(t, m.cat.Upsert(ctx, e))
		want = append(want, e)
	}
	for _, p := range []string{"a/one.mp4", "local/only.mp4", "z/last.mp4"} {
		require.NoError(t, m.cat.Upsert(ctx, localEntry(p)))
	}

	res, err := m.svc.Publish(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entries)

	rc, _, err := store.Get(ctx, snapKey)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)

	got, _, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, identities(want), identities(got))
	for _, e := range got {
		assert.Equal(t, models.LocationRemote, e.Location)
	}

	st, err := m.cat.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Counts.Local)
}

func TestImport_LeavesLocalRowsAlone(t *testing.T) {
	store := remote.NewMemoryStore()
	seedSnapshot(t, store, 2)
	m := newMachine(t, store, Options{})
	ctx := context.Background()

	require.NoError(t, m.cat.Upsert(ctx, localEntry("mine.mp4")))
	require.NoError(t, m.cat.Upsert(ctx, remoteEntry("stale.mp4")))

	_, err := m.svc.Import(ctx)
	require.NoError(t, err)

	local, err := m.cat.ListAll(ctx, models.LocationLocal)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "mine.mp4", local[0].Path)

	_, err = m.cat.Get(ctx, models.LocationRemote, prefix+"stale.mp4")
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 2, remoteCount(t, m.cat))
}

func withVersion(t *testing.T, data []byte, version uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data[:len(data)-32]...)
	binary.LittleEndian.PutUint32(out[4:8], version)
	sum := blake3.Sum256(out)
	return append(out, sum[:]...)
}

func TestImport_SchemaMismatchAppliesNothing(t *testing.T) {
	store := remote.NewMemoryStore()
	m := newMachine(t, store, Options{})
	ctx := context.Background()
	require.NoError(t, m.cat.Upsert(ctx, remoteEntry("keep.mp4")))

	data, err := snapshot.Encode([]models.CatalogEntry{remoteEntry("x.mp4")}, snapshot.State{})
	require.NoError(t, err)
	future := withVersion(t, data, common.SchemaVersion+1)
	_, err = store.Put(ctx, snapKey, bytes.NewReader(future), int64(len(future)), remote.PutOptions{})
	require.NoError(t, err)

	_, err = m.svc.Import(ctx)
	require.ErrorIs(t, err, common.ErrSchemaMismatch)

	_, err = m.cat.Get(ctx, models.LocationRemote, prefix+"keep.mp4")
	require.NoError(t, err)
	st, err := m.cat.State(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.LastImportedAt)
}

func TestImport_CorruptOrMissing(t *testing.T) {
	store := remote.NewMemoryStore()
	m := newMachine(t, store, Options{})
	ctx := context.Background()

	_, err := m.svc.Import(ctx)
	require.ErrorIs(t, err, common.ErrSnapshotNotFound)

	_, err = store.Put(ctx, snapKey, bytes.NewReader([]byte("garbage")), 7, remote.PutOptions{})
	require.NoError(t, err)
	_, err = m.svc.Import(ctx)
	require.ErrorIs(t, err, common.ErrCorruptSnapshot)
	assert.Equal(t, 0, remoteCount(t, m.cat))
}

func TestPublish_ConcurrentPublisherConflicts(t *testing.T) {
	store := remote.NewMemoryStore()
	seedSnapshot(t, store, 1)
	a := newMachine(t, store, Options{})
	b := newMachine(t, store, Options{})
	ctx := context.Background()

	_, err := a.svc.Import(ctx)
	require.NoError(t, err)

	require.NoError(t, b.cat.Upsert(ctx, remoteEntry("from-b.mp4")))
	_, err = b.svc.Publish(ctx, true)
	require.NoError(t, err)

	_, err = a.svc.Publish(ctx, false)
	require.ErrorIs(t, err, common.ErrSnapshotConflict)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	_, err = a.svc.Import(ctx)
	require.NoError(t, err)
	_, err = a.svc.Publish(ctx, false)
	require.NoError(t, err)
}

func putObject(t *testing.T, store remote.ObjectStore, key, body string) {
	t.Helper()
	_, err := store.Put(context.Background(), key, bytes.NewReader([]byte(body)), int64(len(body)), remote.PutOptions{})
	require.NoError(t, err)
}

func TestRebuild_BypassesGuardAndOverwrites(t *testing.T) {
	store := remote.NewMemoryStore()
	seedSnapshot(t, store, 5)
	putObject(t, store, prefix+"show/ep1.mkv", "0123456789")
	putObject(t, store, prefix+"show/ep1.jpg", "img")
	putObject(t, store, prefix+"show/ep2.mkv", "01234")
	putObject(t, store, prefix+"bad/../escape.mp4", "x")
	putObject(t, store, "elsewhere/ignored.mp4", "x")

	m := newMachine(t, store, Options{})
	ctx := context.Background()

	keep := remoteEntry("show/ep2.mkv")
	keep.Extra = map[string]string{"share": "public"}
	require.NoError(t, m.cat.Upsert(ctx, keep))

	res, err := m.svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, 1, res.Skipped)

	all, err := m.cat.ListAll(ctx, models.LocationRemote)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, prefix+"show/ep1.mkv", all[0].RemoteObjectID)
	require.Len(t, all[0].Assets, 1)
	assert.Equal(t, prefix+"show/ep1.jpg", all[0].Assets[0].RemoteObjectID)
	assert.Equal(t, "public", all[1].Extra["share"])

	tr := snapshot.NewTransport(store, snapKey)
	data, _, err := tr.Fetch(ctx)
	require.NoError(t, err)
	published, _, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, identities(all), identities(published))

	_, err = m.svc.Publish(ctx, false)
	require.NoError(t, err)
}

func TestAfterMutation(t *testing.T) {
	ctx := context.Background()

	store := remote.NewMemoryStore()
	off := newMachine(t, store, Options{AutoPublish: false})
	require.NoError(t, off.svc.AfterMutation(ctx))
	_, exists, err := snapshot.NewTransport(store, snapKey).Stat(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	on := newMachine(t, store, Options{AutoPublish: true})
	require.NoError(t, on.svc.AfterMutation(ctx))
	_, exists, err = snapshot.NewTransport(store, snapKey).Stat(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	other := newMachine(t, store, Options{AutoPublish: true})
	err = other.svc.AfterMutation(ctx)
	require.ErrorIs(t, err, common.ErrForceRequired)
	assert.True(t, IsGuardError(err))
}

func TestSyncStatus_FromCatalog(t *testing.T) {
	store := remote.NewMemoryStore()
	m := newMachine(t, store, Options{})
	ctx := context.Background()

	for _, p := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		require.NoError(t, m.cat.Upsert(ctx, localEntry(p)))
	}
	for _, p := range []string{"b.mp4", "c.mp4", "d.mp4"} {
		require.NoError(t, m.cat.Upsert(ctx, remoteEntry(p)))
	}
	store.SetFault(func(op, key string) error {
		if op == "list" {
			return fmt.Errorf("listing is not allowed here")
		}
		return nil
	})

	sum := m.svc.SyncStatus(ctx)
	assert.Equal(t, models.SyncSummary{LocalOnly: 1, RemoteOnly: 1, Synced: 2}, sum)

	page, warning, err := m.svc.SyncItems(ctx, models.PartitionSynced, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "b.mp4", page.Items[0].Path)

	_, _, err = m.svc.SyncItems(ctx, models.Partition("both"), 1, 10)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestSyncStatus_LegacyListingFallback(t *testing.T) {
	store := remote.NewMemoryStore()
	putObject(t, store, prefix+"a.mp4", "1")
	putObject(t, store, prefix+"z.mp4", "2")
	m := newMachine(t, store, Options{LegacyListingFallback: true})
	ctx := context.Background()
	require.NoError(t, m.cat.Upsert(ctx, localEntry("a.mp4")))

	sum := m.svc.SyncStatus(ctx)
	assert.True(t, sum.Live)
	assert.Equal(t, warnLiveListing, sum.Warning)
	assert.Equal(t, 1, sum.Synced)
	assert.Equal(t, 1, sum.RemoteOnly)
	assert.Equal(t, 0, remoteCount(t, m.cat), "the live listing is not persisted")
}

func TestSubmitHelpers(t *testing.T) {
	store := remote.NewMemoryStore()
	seedSnapshot(t, store, 4)
	m := newMachine(t, store, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := m.svc.SubmitPublish(ctx, false)
	require.NoError(t, err)
	j, err := m.orch.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, common.KindForceRequired, j.Error.Kind)

	id, err = m.svc.SubmitImport(ctx)
	require.NoError(t, err)
	j, err = m.orch.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, j.Status)
	assert.Equal(t, 4, j.Progress.ItemsDone)

	id, err = m.svc.SubmitRebuild(ctx)
	require.NoError(t, err)
	j, err = m.orch.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, j.Status)
	assert.Equal(t, models.JobCatalogRebuild, j.Type)
}
