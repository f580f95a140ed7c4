// Package entries provides the persistence layer for catalog entries.
//
// # Overview
//
// The package defines a Repository interface for point, paged and bulk
// operations on models.CatalogEntry rows. SQLiteRepository persists them
// through a dbx.DBTX, so the same code runs on *sql.DB or inside a
// transaction started with dbx.WithTx.
//
// # Data Model
//
// Rows are keyed by (location, identity). Timestamps are stored as UTC
// nanoseconds, assets and the extra bag as JSON text. Listings are ordered by
// (path, identity), which keeps pagination stable.
//
// Typical Usage
//
//	repo := entries.NewSQLiteRepository(db)
//	_ = repo.Upsert(ctx, entry)
//	rows, _ := repo.List(ctx, models.LocationRemote, models.Filter{}, 50, 0)
//	_ = repo.Delete(ctx, models.LocationLocal, id)
package entries
