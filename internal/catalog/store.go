// Package catalog is the durable local index of media entries.
//
// Entries are keyed by (location, identity) and live in a single SQLite file
// together with the catalog state and the job history. Every call runs on
// the catalog worker pool. Writes to one key are serialized, and
// ReplaceLocation excludes every other writer of the same location while it
// swaps the row set.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/dbx"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/migrations"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/pool"
	"github.com/dmitrijs2005/mediakeeper/internal/repositories/entries"
	"github.com/dmitrijs2005/mediakeeper/internal/repositories/metadata"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Store is the catalog. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	entries entries.Repository
	meta    metadata.Repository
	pool    *pool.Pool
	logger  logging.Logger

	keys    *keyedMutex
	locMu   map[models.Location]*sync.RWMutex
	stateMu sync.Mutex
}

// Open opens or creates the catalog at path. An unreadable or corrupt file
// fails with common.ErrCorruptCatalog and a file written by another schema
// version with common.ErrSchemaMismatch. Neither case touches the file.
func Open(ctx context.Context, path string, p *pool.Pool, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is empty: %w", common.ErrValidation)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if p == nil {
		p = pool.New("catalog", 1, nil)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// One connection: pragmas apply to it and writers never see SQLITE_BUSY
	// from each other.
	db.SetMaxOpenConns(1)

	if err := checkIntegrity(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w: %w", path, common.ErrCorruptCatalog, err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err == nil {
		_, err = provider.Up(ctx)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &Store{
		db:      db,
		entries: entries.NewSQLiteRepository(db),
		meta:    metadata.NewSQLiteRepository(db),
		pool:    p,
		logger:  logger,
		keys:    newKeyedMutex(),
		locMu: map[models.Location]*sync.RWMutex{
			models.LocationLocal:  {},
			models.LocationRemote: {},
		},
	}

	if err := s.checkSchemaVersion(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info(ctx, "catalog opened", "path", path)
	return s, nil
}

func checkIntegrity(ctx context.Context, db *sql.DB) error {
	for _, pragma := range []string{"PRAGMA busy_timeout=5000", "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return err
		}
	}

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return errors.New(result)
	}
	return nil
}

// DB exposes the underlying handle so job history can share the file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert validates e and writes it, replacing any entry with the same key.
func (s *Store) Upsert(ctx context.Context, e models.CatalogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	loc := s.locMu[e.Location]
	loc.RLock()
	defer loc.RUnlock()
	unlock := s.keys.Lock(e.Key())
	defer unlock()

	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.entries.Upsert(ctx, e)
	})
}

// Remove deletes the entry if present.
func (s *Store) Remove(ctx context.Context, loc models.Location, identity string) error {
	if !loc.Valid() {
		return fmt.Errorf("unknown location %q: %w", loc, common.ErrValidation)
	}

	lm := s.locMu[loc]
	lm.RLock()
	defer lm.RUnlock()
	unlock := s.keys.Lock(models.CatalogEntry{Location: loc, Identity: identity}.Key())
	defer unlock()

	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.entries.Delete(ctx, loc, identity)
	})
}

// Update reads the entry at (loc, identity), hands it to fn and writes what
// fn returns. The read and the write share one transaction and the key
// lock, so concurrent updates of one entry never lose each other's changes.
// cur is nil when no entry exists yet. An error from fn writes nothing.
// fn must not call back into the Store.
func (s *Store) Update(ctx context.Context, loc models.Location, identity string, fn func(cur *models.CatalogEntry) (models.CatalogEntry, error)) (models.CatalogEntry, error) {
	if !loc.Valid() {
		return models.CatalogEntry{}, fmt.Errorf("unknown location %q: %w", loc, common.ErrValidation)
	}

	lm := s.locMu[loc]
	lm.RLock()
	defer lm.RUnlock()
	unlock := s.keys.Lock(models.CatalogEntry{Location: loc, Identity: identity}.Key())
	defer unlock()

	var next models.CatalogEntry
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := entries.NewSQLiteRepository(tx)
			cur, err := repo.Get(ctx, loc, identity)
			if errors.Is(err, common.ErrNotFound) {
				cur, err = nil, nil
			}
			if err != nil {
				return err
			}
			if next, err = fn(cur); err != nil {
				return err
			}
			if next.Location != loc || next.Identity != identity {
				return fmt.Errorf("update of %s/%s returned %s/%s: %w", loc, identity, next.Location, next.Identity, common.ErrValidation)
			}
			if err := next.Validate(); err != nil {
				return err
			}
			return repo.Upsert(ctx, next)
		})
	})
	if err != nil {
		return models.CatalogEntry{}, err
	}
	return next, nil
}

// Move replaces the entry at (next.Location, from) with next in one
// transaction. The source must exist and the target identity must be free.
func (s *Store) Move(ctx context.Context, from string, next models.CatalogEntry) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if from == next.Identity {
		return fmt.Errorf("%s moved onto itself: %w", from, common.ErrValidation)
	}

	lm := s.locMu[next.Location]
	lm.RLock()
	defer lm.RUnlock()
	keys := []string{models.CatalogEntry{Location: next.Location, Identity: from}.Key(), next.Key()}
	slices.Sort(keys)
	for _, k := range keys {
		defer s.keys.Lock(k)()
	}

	return s.pool.Do(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := entries.NewSQLiteRepository(tx)
			if _, err := repo.Get(ctx, next.Location, from); err != nil {
				return err
			}
			_, err := repo.Get(ctx, next.Location, next.Identity)
			switch {
			case err == nil:
				return fmt.Errorf("%s already exists: %w", next.Identity, common.ErrValidation)
			case !errors.Is(err, common.ErrNotFound):
				return err
			}
			if err := repo.Delete(ctx, next.Location, from); err != nil {
				return err
			}
			return repo.Upsert(ctx, next)
		})
	})
}

// Get returns one entry or common.ErrNotFound.
func (s *Store) Get(ctx context.Context, loc models.Location, identity string) (*models.CatalogEntry, error) {
	return pool.Call(ctx, s.pool, func(ctx context.Context) (*models.CatalogEntry, error) {
		return s.entries.Get(ctx, loc, identity)
	})
}

// List returns one page of loc ordered by (path, identity). Pages start at 1.
func (s *Store) List(ctx context.Context, loc models.Location, page, pageSize int, f models.Filter) (models.Page[models.CatalogEntry], error) {
	if !loc.Valid() {
		return models.Page[models.CatalogEntry]{}, fmt.Errorf("unknown location %q: %w", loc, common.ErrValidation)
	}
	page, pageSize = normalizePage(page, pageSize)

	out := models.Page[models.CatalogEntry]{Page: page, PageSize: pageSize}
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := entries.NewSQLiteRepository(tx)
			total, err := repo.Count(ctx, loc, f)
			if err != nil {
				return err
			}
			items, err := repo.List(ctx, loc, f, pageSize, (page-1)*pageSize)
			if err != nil {
				return err
			}
			out.Total, out.Items = total, items
			return nil
		})
	})
	return out, err
}

// ListAll returns every entry of loc ordered by (path, identity).
func (s *Store) ListAll(ctx context.Context, loc models.Location) ([]models.CatalogEntry, error) {
	return pool.Call(ctx, s.pool, func(ctx context.Context) ([]models.CatalogEntry, error) {
		return s.entries.List(ctx, loc, models.Filter{}, 0, 0)
	})
}

// ReplaceLocation swaps every row of loc for items in one transaction.
// Rows of the other location are never touched. Items must carry loc and
// schemaVersion must match the catalog; otherwise nothing is applied.
func (s *Store) ReplaceLocation(ctx context.Context, loc models.Location, items []models.CatalogEntry, schemaVersion int) error {
	if schemaVersion != common.SchemaVersion {
		return fmt.Errorf("incoming schema %d, catalog schema %d: %w", schemaVersion, common.SchemaVersion, common.ErrSchemaMismatch)
	}
	if !loc.Valid() {
		return fmt.Errorf("unknown location %q: %w", loc, common.ErrValidation)
	}
	for _, e := range items {
		if e.Location != loc {
			return fmt.Errorf("entry %s has location %s, want %s: %w", e.Identity, e.Location, loc, common.ErrValidation)
		}
		if err := e.Validate(); err != nil {
			return err
		}
	}

	lm := s.locMu[loc]
	lm.Lock()
	defer lm.Unlock()

	var removed int64
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := entries.NewSQLiteRepository(tx)
			n, err := repo.DeleteLocation(ctx, loc)
			if err != nil {
				return err
			}
			removed = n
			for _, e := range items {
				if err := repo.Upsert(ctx, e); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to replace %s entries: %w", loc, err)
	}

	s.logger.Info(ctx, "catalog location replaced", "location", loc, "removed", removed, "inserted", len(items))
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = common.DefaultPageSize
	}
	if pageSize > common.MaxPageSize {
		pageSize = common.MaxPageSize
	}
	return page, pageSize
}
