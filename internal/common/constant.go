// Package common contains shared constants, sentinel errors and error kinds
// used across MediaKeeper components.
package common

// SchemaVersion is the catalog/snapshot schema understood by this build.
// A stored catalog or a snapshot carrying any other value is rejected.
const SchemaVersion = 1

// DefaultPageSize is used when a caller asks for a page size of zero.
const DefaultPageSize = 50

// MaxPageSize caps listing pages.
const MaxPageSize = 1000
