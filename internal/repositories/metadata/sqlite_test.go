package metadata

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestSchemaVersion_MissingThenSet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, ok, err := r.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetSchemaVersion(ctx, 1))
	v, ok, err := r.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestLoad_EmptyState(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	st, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CatalogState{}, st)
}

func TestSave_ThenTypedGetters(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	imported := time.Date(2025, 5, 1, 10, 30, 0, 123, time.FixedZone("x", 3600))
	published := imported.Add(time.Minute)

	require.NoError(t, r.SetSchemaVersion(ctx, 1))
	require.NoError(t, r.Save(ctx, models.CatalogState{
		LastImportedAt:  &imported,
		LastPublishedAt: &published,
		SnapshotETag:    `"etag-1"`,
	}))

	got, err := r.LastImportedAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, imported.Equal(*got))
	assert.Equal(t, time.UTC, got.Location())

	etag, err := r.SnapshotETag(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"etag-1"`, etag)

	st, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.SchemaVersion)
	assert.Nil(t, st.LastLocalBootstrapAt)
	require.NotNil(t, st.LastPublishedAt)
	assert.True(t, published.Equal(*st.LastPublishedAt))
}

func TestSave_ClearsUnsetFields(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Save(ctx, models.CatalogState{LastImportedAt: &now, SnapshotETag: "e"}))
	require.NoError(t, r.Save(ctx, models.CatalogState{}))

	got, err := r.LastImportedAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	etag, err := r.SnapshotETag(ctx)
	require.NoError(t, err)
	assert.Empty(t, etag)
}

func TestCorruptValues(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO metadata (key, value) VALUES ('schema_version', 'one'), ('last_imported_at', 'yesterday')`)
	require.NoError(t, err)

	_, _, err = r.SchemaVersion(ctx)
	require.ErrorIs(t, err, common.ErrCorruptCatalog)
	_, err = r.LastImportedAt(ctx)
	require.ErrorIs(t, err, common.ErrCorruptCatalog)
	_, err = r.Load(ctx)
	require.ErrorIs(t, err, common.ErrCorruptCatalog)
}

func TestErrorsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	boom := errors.New("database is locked")

	mock.ExpectQuery(`SELECT value FROM metadata`).WithArgs("snapshot_etag").WillReturnError(boom)
	_, err = r.SnapshotETag(ctx)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to read snapshot_etag")

	mock.ExpectExec(`INSERT INTO metadata`).WithArgs("schema_version", []byte("1")).WillReturnError(boom)
	err = r.SetSchemaVersion(ctx, 1)
	assert.Contains(t, err.Error(), "failed to write schema_version")

	mock.ExpectExec(`DELETE FROM metadata`).WithArgs("last_local_bootstrap_at").WillReturnError(boom)
	err = r.Save(ctx, models.CatalogState{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to clear last_local_bootstrap_at")

	require.NoError(t, mock.ExpectationsWereMet())
}
