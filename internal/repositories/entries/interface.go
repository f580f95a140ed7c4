package entries

import (
	"context"

	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// Repository describes storage operations for catalog entries.
type Repository interface {
	// Upsert inserts the entry or replaces the row with the same key.
	Upsert(ctx context.Context, e models.CatalogEntry) error

	// Delete removes one row. Removing a missing row is not an error.
	Delete(ctx context.Context, loc models.Location, identity string) error

	// Get returns one row or common.ErrNotFound.
	Get(ctx context.Context, loc models.Location, identity string) (*models.CatalogEntry, error)

	// List returns up to limit rows of loc matching f, ordered by (path, identity).
	List(ctx context.Context, loc models.Location, f models.Filter, limit, offset int) ([]models.CatalogEntry, error)

	// Count returns the number of rows of loc matching f.
	Count(ctx context.Context, loc models.Location, f models.Filter) (int, error)

	// DeleteLocation removes every row of loc and reports how many went.
	DeleteLocation(ctx context.Context, loc models.Location) (int64, error)

	// CountByLocation returns row counts of both locations.
	CountByLocation(ctx context.Context) (models.Counts, error)
}
