package entries

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/dbx"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/timex"
)

const columns = `identity, location, path, size, created_at, modified_at, remote_object_id, assets, extra`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert writes e keyed by (location, identity); on conflict every column is replaced.
func (r *SQLiteRepository) Upsert(ctx context.Context, e models.CatalogEntry) error {
	assets, err := json.Marshal(nonNilAssets(e.Assets))
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}
	extra, err := json.Marshal(nonNilExtra(e.Extra))
	if err != nil {
		return fmt.Errorf("failed to encode extra: %w", err)
	}

	query := `INSERT INTO catalog_entries (` + columns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(location, identity) DO UPDATE SET
				path = excluded.path,
				size = excluded.size,
				created_at = excluded.created_at,
				modified_at = excluded.modified_at,
				remote_object_id = excluded.remote_object_id,
				assets = excluded.assets,
				extra = excluded.extra
	`
	_, err = r.db.ExecContext(ctx, query,
		e.Identity, string(e.Location), e.Path, e.Size,
		timex.UnixNano(e.CreatedAt), timex.UnixNano(e.ModifiedAt),
		e.RemoteObjectID, string(assets), string(extra))
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

// Delete removes the row if present.
func (r *SQLiteRepository) Delete(ctx context.Context, loc models.Location, identity string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE location = ? AND identity = ?`, string(loc), identity)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// Get returns a single row.
func (r *SQLiteRepository) Get(ctx context.Context, loc models.Location, identity string) (*models.CatalogEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM catalog_entries WHERE location = ? AND identity = ?`, string(loc), identity)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s/%s: %w", loc, identity, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return &e, nil
}

// List returns one ordered window of rows. A limit of zero or less means no limit.
func (r *SQLiteRepository) List(ctx context.Context, loc models.Location, f models.Filter, limit, offset int) ([]models.CatalogEntry, error) {
	where, args := whereClause(loc, f)
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM catalog_entries`+where+` ORDER BY path, identity LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}

	result, err := dbx.CollectRows(rows, func(rows *sql.Rows) (models.CatalogEntry, error) {
		return scanEntry(rows)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan entries: %w", err)
	}
	return result, nil
}

// Count returns the number of rows that List would page through.
func (r *SQLiteRepository) Count(ctx context.Context, loc models.Location, f models.Filter) (int, error) {
	where, args := whereClause(loc, f)

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// DeleteLocation clears one side of the catalog.
func (r *SQLiteRepository) DeleteLocation(ctx context.Context, loc models.Location) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE location = ?`, string(loc))
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s entries: %w", loc, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// CountByLocation returns both counts in one query.
func (r *SQLiteRepository) CountByLocation(ctx context.Context) (models.Counts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT location, COUNT(*) FROM catalog_entries GROUP BY location`)
	if err != nil {
		return models.Counts{}, fmt.Errorf("failed to count entries: %w", err)
	}
	defer rows.Close()

	var c models.Counts
	for rows.Next() {
		var loc string
		var n int
		if err := rows.Scan(&loc, &n); err != nil {
			return models.Counts{}, fmt.Errorf("failed to scan count row: %w", err)
		}
		switch models.Location(loc) {
		case models.LocationLocal:
			c.Local = n
		case models.LocationRemote:
			c.Remote = n
		}
	}
	if err := rows.Err(); err != nil {
		return models.Counts{}, fmt.Errorf("failed to iterate count rows: %w", err)
	}
	return c, nil
}

func whereClause(loc models.Location, f models.Filter) (string, []any) {
	conds := []string{"location = ?"}
	args := []any{string(loc)}

	if f.PathPrefix != "" {
		conds = append(conds, "substr(path, 1, length(?)) = ?")
		args = append(args, f.PathPrefix, f.PathPrefix)
	}
	if f.Search != "" {
		conds = append(conds, "instr(lower(path), lower(?)) > 0")
		args = append(args, f.Search)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (models.CatalogEntry, error) {
	var (
		e                   models.CatalogEntry
		loc                 string
		created, modified   int64
		assetsRaw, extraRaw string
	)
	if err := s.Scan(&e.Identity, &loc, &e.Path, &e.Size, &created, &modified,
		&e.RemoteObjectID, &assetsRaw, &extraRaw); err != nil {
		return models.CatalogEntry{}, err
	}
	e.Location = models.Location(loc)
	e.CreatedAt = timex.FromUnixNano(created)
	e.ModifiedAt = timex.FromUnixNano(modified)

	if err := json.Unmarshal([]byte(assetsRaw), &e.Assets); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("decode assets of %s: %w", e.Identity, err)
	}
	if err := json.Unmarshal([]byte(extraRaw), &e.Extra); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("decode extra of %s: %w", e.Identity, err)
	}
	if len(e.Assets) == 0 {
		e.Assets = nil
	}
	if len(e.Extra) == 0 {
		e.Extra = nil
	}
	return e, nil
}

func nonNilAssets(a []models.Asset) []models.Asset {
	if a == nil {
		return []models.Asset{}
	}
	return a
}

func nonNilExtra(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
