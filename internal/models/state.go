package models

import "time"

// CatalogState is the singleton record describing the catalog as a whole.
type CatalogState struct {
	SchemaVersion        int
	LastLocalBootstrapAt *time.Time
	LastImportedAt       *time.Time
	LastPublishedAt      *time.Time
	// SnapshotETag is the version of the remote snapshot this installation
	// last imported or published.
	SnapshotETag string
	Counts       Counts
}

// Counts are derived on read and never stored.
type Counts struct {
	Local  int
	Remote int
}

// Page is one page of a listing.
type Page[T any] struct {
	Items    []T
	Page     int
	PageSize int
	Total    int
}

// Filter narrows catalog listings.
type Filter struct {
	PathPrefix string
	// Search is a case-insensitive substring match on the path.
	Search string
}

// Partition names one of the three diff buckets.
type Partition string

const (
	PartitionLocalOnly  Partition = "local_only"
	PartitionRemoteOnly Partition = "remote_only"
	PartitionSynced     Partition = "synced"
)

// SyncedPair is the local and remote entry sharing one correlation path.
type SyncedPair struct {
	Path   string
	Local  CatalogEntry
	Remote CatalogEntry
}

// Diff partitions the catalog by correlation path.
type Diff struct {
	LocalOnly  []CatalogEntry
	RemoteOnly []CatalogEntry
	Synced     []SyncedPair
}

// SyncItem is one row of a paginated diff partition.
type SyncItem struct {
	Path   string
	Local  *CatalogEntry
	Remote *CatalogEntry
}

// SyncSummary is the status view of a diff.
type SyncSummary struct {
	LocalOnly  int
	RemoteOnly int
	Synced     int
	// Warning is set when the answer is degraded, e.g. the remote side of
	// the catalog was never populated.
	Warning string
	// Live is true when the remote side came from a live listing.
	Live bool
}
