// Package metadata persists the catalog's singleton state: the schema
// version, the bookkeeping timestamps and the ETag of the remote snapshot.
// Each field is one row of the metadata table.
package metadata

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// Field names one state row.
type Field string

const (
	FieldSchemaVersion  Field = "schema_version"
	FieldLocalBootstrap Field = "last_local_bootstrap_at"
	FieldLastImported   Field = "last_imported_at"
	FieldLastPublished  Field = "last_published_at"
	FieldSnapshotETag   Field = "snapshot_etag"
)

// Repository reads and writes the catalog state. Load and Save leave
// Counts alone; they are derived from the entry rows.
type Repository interface {
	// SchemaVersion reports the stored version and whether one is stored.
	SchemaVersion(ctx context.Context) (int, bool, error)
	SetSchemaVersion(ctx context.Context, v int) error

	LastImportedAt(ctx context.Context) (*time.Time, error)
	SnapshotETag(ctx context.Context) (string, error)

	Load(ctx context.Context) (models.CatalogState, error)
	// Save writes every writable field. A nil time or an empty ETag clears
	// its row.
	Save(ctx context.Context, st models.CatalogState) error
}
