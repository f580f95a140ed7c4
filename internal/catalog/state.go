package catalog

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/dbx"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/repositories/entries"
	"github.com/dmitrijs2005/mediakeeper/internal/repositories/metadata"
)

func (s *Store) checkSchemaVersion(ctx context.Context) error {
	v, ok, err := s.meta.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrCorruptCatalog, err)
	}
	if !ok {
		return s.meta.SetSchemaVersion(ctx, common.SchemaVersion)
	}
	if v != common.SchemaVersion {
		return fmt.Errorf("catalog schema %d, supported %d: %w", v, common.SchemaVersion, common.ErrSchemaMismatch)
	}
	return nil
}

// State returns the singleton state with freshly derived counts.
func (s *Store) State(ctx context.Context) (models.CatalogState, error) {
	var st models.CatalogState
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			st, err = readState(ctx, metadata.NewSQLiteRepository(tx), entries.NewSQLiteRepository(tx))
			return err
		})
	})
	return st, err
}

// UpdateState runs fn on the current state inside a transaction and stores
// the result. SchemaVersion and Counts are not writable. An error from fn
// aborts the update.
func (s *Store) UpdateState(ctx context.Context, fn func(st *models.CatalogState) error) (models.CatalogState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	var st models.CatalogState
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			meta := metadata.NewSQLiteRepository(tx)
			cur, err := readState(ctx, meta, entries.NewSQLiteRepository(tx))
			if err != nil {
				return err
			}
			next := cur
			if err := fn(&next); err != nil {
				return err
			}
			next.SchemaVersion, next.Counts = cur.SchemaVersion, cur.Counts
			if err := meta.Save(ctx, next); err != nil {
				return err
			}
			st = next
			return nil
		})
	})
	return st, err
}

func readState(ctx context.Context, meta metadata.Repository, rows entries.Repository) (models.CatalogState, error) {
	st, err := meta.Load(ctx)
	if err != nil {
		return models.CatalogState{}, err
	}
	st.Counts, err = rows.CountByLocation(ctx)
	if err != nil {
		return models.CatalogState{}, err
	}
	return st, nil
}
