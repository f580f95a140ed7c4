package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/dbx"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/timex"
)

const columns = `id, type, status, progress, created_at, started_at, completed_at, error_kind, error_message`

// SQLiteRepository implements Repository over a DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, j models.Job) error {
	progress, err := json.Marshal(j.Progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	var kind, msg string
	if j.Error != nil {
		kind, msg = string(j.Error.Kind), j.Error.Message
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO jobs (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message`,
		j.ID, string(j.Type), string(j.Status), string(progress),
		timex.UnixNano(j.CreatedAt), timex.UnixNano(j.StartedAt), timex.UnixNano(j.CompletedAt),
		kind, msg)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", j.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &j, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f models.JobFilter) ([]models.Job, error) {
	var (
		conds []string
		args  []any
	)
	if len(f.Types) > 0 {
		conds = append(conds, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}

	query := `SELECT ` + columns + ` FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out, err := dbx.CollectRows(rows, func(rows *sql.Rows) (models.Job, error) { return scanJob(rows) })
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND completed_at < ?`,
		string(models.JobCompleted), string(models.JobFailed), string(models.JobCancelled),
		timex.UnixNano(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) MarkInterrupted(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, error_kind = ?, error_message = ?
		 WHERE status IN (?, ?)`,
		string(models.JobFailed), timex.UnixNano(now),
		string(common.KindInterrupted), common.ErrInterrupted.Error(),
		string(models.JobPending), string(models.JobRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (models.Job, error) {
	var (
		j                           models.Job
		typ, status, progress, kind string
		msg                         string
		created, started, completed int64
	)
	if err := s.Scan(&j.ID, &typ, &status, &progress, &created, &started, &completed, &kind, &msg); err != nil {
		return models.Job{}, err
	}
	j.Type = models.JobType(typ)
	j.Status = models.JobStatus(status)
	j.CreatedAt = timex.FromUnixNano(created)
	j.StartedAt = timex.FromUnixNano(started)
	j.CompletedAt = timex.FromUnixNano(completed)
	if err := json.Unmarshal([]byte(progress), &j.Progress); err != nil {
		return models.Job{}, fmt.Errorf("decode progress of job %s: %w", j.ID, err)
	}
	if kind != "" {
		j.Error = &models.JobError{Kind: common.ErrorKind(kind), Message: msg}
	}
	return j, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
