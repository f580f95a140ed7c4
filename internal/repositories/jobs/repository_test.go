package jobs

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/migrations"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newSQLite(t *testing.T) Repository {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	require.NoError(t, err)
	_, err = p.Up(context.Background())
	require.NoError(t, err)
	return NewSQLiteRepository(db)
}

var implementations = map[string]func(t *testing.T) Repository{
	"sqlite": newSQLite,
	"memory": func(t *testing.T) Repository { return NewMemoryRepository() },
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func job(id string, typ models.JobType, st models.JobStatus, created time.Time) models.Job {
	j := models.Job{ID: id, Type: typ, Status: st, CreatedAt: created}
	if st != models.JobPending {
		j.StartedAt = created.Add(time.Second)
	}
	if st.Terminal() {
		j.CompletedAt = created.Add(time.Minute)
	}
	return j
}

func TestRepository_SaveGetRoundTrip(t *testing.T) {
	for name, newRepo := range implementations {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			ctx := context.Background()

			j := job("a", models.JobUpload, models.JobFailed, t0)
			j.Progress = models.Progress{Percent: 40, BytesDone: 4, BytesTotal: 10, CurrentItem: "a.mp4", ETA: time.Second}
			j.Error = &models.JobError{Kind: common.KindTransient, Message: "timeout"}
			require.NoError(t, r.Save(ctx, j))

			got, err := r.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, j, *got)

			_, err = r.Get(ctx, "missing")
			require.ErrorIs(t, err, common.ErrNotFound)
		})
	}
}

func TestRepository_ListFilterAndOrder(t *testing.T) {
	for name, newRepo := range implementations {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			ctx := context.Background()

			require.NoError(t, r.Save(ctx, job("1", models.JobUpload, models.JobCompleted, t0)))
			require.NoError(t, r.Save(ctx, job("2", models.JobDelete, models.JobRunning, t0.Add(time.Minute))))
			require.NoError(t, r.Save(ctx, job("3", models.JobUpload, models.JobPending, t0.Add(2*time.Minute))))

			all, err := r.List(ctx, models.JobFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"3", "2", "1"}, []string{all[0].ID, all[1].ID, all[2].ID})

			uploads, err := r.List(ctx, models.JobFilter{Types: []models.JobType{models.JobUpload}})
			require.NoError(t, err)
			assert.Len(t, uploads, 2)

			active, err := r.List(ctx, models.JobFilter{Statuses: []models.JobStatus{models.JobPending, models.JobRunning}, Limit: 1})
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "3", active[0].ID)
		})
	}
}

func TestRepository_DeleteTerminalBeforeSkipsActive(t *testing.T) {
	for name, newRepo := range implementations {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			ctx := context.Background()

			require.NoError(t, r.Save(ctx, job("old-done", models.JobCleanup, models.JobCompleted, t0)))
			require.NoError(t, r.Save(ctx, job("old-cancel", models.JobUpload, models.JobCancelled, t0)))
			require.NoError(t, r.Save(ctx, job("old-running", models.JobUpload, models.JobRunning, t0)))
			require.NoError(t, r.Save(ctx, job("old-pending", models.JobUpload, models.JobPending, t0)))
			require.NoError(t, r.Save(ctx, job("new-failed", models.JobUpload, models.JobFailed, t0.Add(48*time.Hour))))

			n, err := r.DeleteTerminalBefore(ctx, t0.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			left, err := r.List(ctx, models.JobFilter{})
			require.NoError(t, err)
			ids := map[string]bool{}
			for _, j := range left {
				ids[j.ID] = true
			}
			assert.Equal(t, map[string]bool{"old-running": true, "old-pending": true, "new-failed": true}, ids)
		})
	}
}

func TestRepository_MarkInterrupted(t *testing.T) {
	for name, newRepo := range implementations {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			ctx := context.Background()

			require.NoError(t, r.Save(ctx, job("p", models.JobUpload, models.JobPending, t0)))
			require.NoError(t, r.Save(ctx, job("r", models.JobUpload, models.JobRunning, t0)))
			done := job("c", models.JobUpload, models.JobCompleted, t0)
			require.NoError(t, r.Save(ctx, done))

			now := t0.Add(time.Hour)
			n, err := r.MarkInterrupted(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			for _, id := range []string{"p", "r"} {
				got, err := r.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, models.JobFailed, got.Status)
				assert.Equal(t, now, got.CompletedAt)
				require.NotNil(t, got.Error)
				assert.Equal(t, common.KindInterrupted, got.Error.Kind)
			}

			got, err := r.Get(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, done, *got)
		})
	}
}

func TestSQLiteRepository_ErrorsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	boom := errors.New("database is locked")

	mock.ExpectExec(`INSERT INTO jobs`).WillReturnError(boom)
	err = r.Save(context.Background(), job("x", models.JobUpload, models.JobPending, t0))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to save job x")

	mock.ExpectExec(`UPDATE jobs SET status`).WillReturnResult(sqlmock.NewErrorResult(boom))
	_, err = r.MarkInterrupted(context.Background(), t0)
	assert.Contains(t, err.Error(), "failed to get rows affected")

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).WillReturnError(boom)
	_, err = r.Get(context.Background(), "x")
	require.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}
