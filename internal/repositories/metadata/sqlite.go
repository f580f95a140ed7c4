package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/dbx"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) SchemaVersion(ctx context.Context) (int, bool, error) {
	raw, ok, err := r.read(ctx, FieldSchemaVersion)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("stored schema version %q: %w", raw, common.ErrCorruptCatalog)
	}
	return v, true, nil
}

func (r *SQLiteRepository) SetSchemaVersion(ctx context.Context, v int) error {
	return r.write(ctx, FieldSchemaVersion, strconv.Itoa(v))
}

func (r *SQLiteRepository) LastImportedAt(ctx context.Context) (*time.Time, error) {
	return r.readTime(ctx, FieldLastImported)
}

func (r *SQLiteRepository) SnapshotETag(ctx context.Context) (string, error) {
	v, _, err := r.read(ctx, FieldSnapshotETag)
	return v, err
}

func (r *SQLiteRepository) Load(ctx context.Context) (models.CatalogState, error) {
	var (
		st  models.CatalogState
		err error
	)
	if st.SchemaVersion, _, err = r.SchemaVersion(ctx); err != nil {
		return models.CatalogState{}, err
	}
	if st.LastLocalBootstrapAt, err = r.readTime(ctx, FieldLocalBootstrap); err != nil {
		return models.CatalogState{}, err
	}
	if st.LastImportedAt, err = r.LastImportedAt(ctx); err != nil {
		return models.CatalogState{}, err
	}
	if st.LastPublishedAt, err = r.readTime(ctx, FieldLastPublished); err != nil {
		return models.CatalogState{}, err
	}
	if st.SnapshotETag, err = r.SnapshotETag(ctx); err != nil {
		return models.CatalogState{}, err
	}
	return st, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, st models.CatalogState) error {
	if err := r.writeTime(ctx, FieldLocalBootstrap, st.LastLocalBootstrapAt); err != nil {
		return err
	}
	if err := r.writeTime(ctx, FieldLastImported, st.LastImportedAt); err != nil {
		return err
	}
	if err := r.writeTime(ctx, FieldLastPublished, st.LastPublishedAt); err != nil {
		return err
	}
	if st.SnapshotETag == "" {
		return r.clear(ctx, FieldSnapshotETag)
	}
	return r.write(ctx, FieldSnapshotETag, st.SnapshotETag)
}

func (r *SQLiteRepository) readTime(ctx context.Context, f Field) (*time.Time, error) {
	raw, ok, err := r.read(ctx, f)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("stored %s %q: %w", f, raw, common.ErrCorruptCatalog)
	}
	return &t, nil
}

func (r *SQLiteRepository) writeTime(ctx context.Context, f Field, t *time.Time) error {
	if t == nil {
		return r.clear(ctx, f)
	}
	return r.write(ctx, f, t.UTC().Format(time.RFC3339Nano))
}

func (r *SQLiteRepository) read(ctx context.Context, f Field) (string, bool, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, string(f)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", f, err)
	}
	return string(value), true, nil
}

func (r *SQLiteRepository) write(ctx context.Context, f Field, v string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, string(f), []byte(v))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", f, err)
	}
	return nil
}

func (r *SQLiteRepository) clear(ctx context.Context, f Field) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, string(f))
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", f, err)
	}
	return nil
}
