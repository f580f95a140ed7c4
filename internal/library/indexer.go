package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/mediafile"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// Indexer writes local filesystem changes straight into the catalog. Local
// changes are never jobs and never publish.
type Indexer struct {
	lib    *Library
	cat    *catalog.Store
	logger logging.Logger
	now    func() time.Time
}

func NewIndexer(lib *Library, cat *catalog.Store, logger logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Indexer{lib: lib, cat: cat, logger: logger, now: time.Now}
}

// Bootstrap scans the library and replaces all local rows with the result.
func (ix *Indexer) Bootstrap(ctx context.Context) (int, error) {
	items, err := ix.lib.Scan(ctx)
	if err != nil {
		return 0, err
	}
	if err := ix.cat.ReplaceLocation(ctx, models.LocationLocal, items, common.SchemaVersion); err != nil {
		return 0, err
	}
	now := ix.now().UTC()
	if _, err := ix.cat.UpdateState(ctx, func(st *models.CatalogState) error {
		st.LastLocalBootstrapAt = &now
		return nil
	}); err != nil {
		return 0, err
	}
	ix.logger.Info(ctx, "local library indexed", "entries", len(items))
	return len(items), nil
}

// BootstrapOnce runs Bootstrap unless the catalog was bootstrapped before.
func (ix *Indexer) BootstrapOnce(ctx context.Context) (bool, error) {
	st, err := ix.cat.State(ctx)
	if err != nil {
		return false, err
	}
	if st.LastLocalBootstrapAt != nil {
		return false, nil
	}
	if _, err := ix.Bootstrap(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// FileLanded indexes a file that appeared in the library. A side-file
// refreshes the entry of the media file it belongs to.
func (ix *Indexer) FileLanded(ctx context.Context, p string) (models.CatalogEntry, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	if !mediafile.IsMedia(p) {
		owner, ok, err := ix.lib.Owner(ctx, p)
		if err != nil {
			return models.CatalogEntry{}, err
		}
		if !ok {
			return models.CatalogEntry{}, fmt.Errorf("%s belongs to no media file: %w", p, common.ErrValidation)
		}
		p = owner
	}
	return ix.refresh(ctx, p)
}

func (ix *Indexer) refresh(ctx context.Context, p string) (models.CatalogEntry, error) {
	d, err := ix.lib.Describe(ctx, p)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	e, err := ix.cat.Update(ctx, models.LocationLocal, d.Identity, func(cur *models.CatalogEntry) (models.CatalogEntry, error) {
		next := d
		if cur != nil {
			next.CreatedAt = cur.CreatedAt
			next.Extra = cur.Extra
		}
		return next, nil
	})
	if err != nil {
		return models.CatalogEntry{}, err
	}
	ix.logger.Debug(ctx, "local entry indexed", "path", e.Path)
	return e, nil
}

// Renamed moves the local entry from oldPath to newPath. The identity is
// path-derived, so this is a remove plus an insert.
func (ix *Indexer) Renamed(ctx context.Context, oldPath, newPath string) (models.CatalogEntry, error) {
	oldPath, err := NormalizePath(oldPath)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	newPath, err = NormalizePath(newPath)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	if mediafile.IsMedia(oldPath) {
		if err := ix.cat.Remove(ctx, models.LocationLocal, LocalIdentity(oldPath)); err != nil {
			return models.CatalogEntry{}, err
		}
	} else if err := ix.refreshOwner(ctx, oldPath); err != nil {
		return models.CatalogEntry{}, err
	}
	return ix.FileLanded(ctx, newPath)
}

// Deleted drops the local entry for p. Deleting a side-file refreshes its
// owner instead.
func (ix *Indexer) Deleted(ctx context.Context, p string) error {
	p, err := NormalizePath(p)
	if err != nil {
		return err
	}
	return ix.deleted(ctx, p)
}

func (ix *Indexer) deleted(ctx context.Context, p string) error {
	if mediafile.IsMedia(p) {
		return ix.cat.Remove(ctx, models.LocationLocal, LocalIdentity(p))
	}
	return ix.refreshOwner(ctx, p)
}

func (ix *Indexer) refreshOwner(ctx context.Context, p string) error {
	owner, ok, err := ix.lib.Owner(ctx, p)
	if err != nil || !ok {
		return err
	}
	_, err = ix.refresh(ctx, owner)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

// BatchDeleted validates every path before removing any of them.
func (ix *Indexer) BatchDeleted(ctx context.Context, paths []string) error {
	norm := make([]string, 0, len(paths))
	for _, p := range paths {
		n, err := NormalizePath(p)
		if err != nil {
			return err
		}
		norm = append(norm, n)
	}
	var errs []error
	for _, p := range norm {
		if err := ix.deleted(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
