// Package jobs persists job records for the orchestrator.
//
// Two implementations are provided: SQLiteRepository, which keeps history in
// the catalog database across restarts, and MemoryRepository for tests and
// throwaway runs.
package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// Repository stores job records.
type Repository interface {
	// Save inserts or replaces the record with the same ID.
	Save(ctx context.Context, j models.Job) error

	// Get returns one record or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)

	// List returns records matching f, newest first.
	List(ctx context.Context, f models.JobFilter) ([]models.Job, error)

	// DeleteTerminalBefore removes completed, failed and cancelled records
	// whose CompletedAt is before cutoff. It never touches other statuses.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// MarkInterrupted fails every pending or running record, stamping now as
	// CompletedAt and kind interrupted. It returns the number of records.
	MarkInterrupted(ctx context.Context, now time.Time) (int, error)
}
