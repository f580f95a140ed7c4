// Package jobs runs long operations as asynchronous jobs with a persisted
// state machine, progress reporting, cooperative cancellation and
// per-domain concurrency limits.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/metrics"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/pool"
	jobsrepo "github.com/dmitrijs2005/mediakeeper/internal/repositories/jobs"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("job orchestrator is shut down")

// Body is the work of one job. It returns common.ErrCancelled (usually from
// Reporter.Checkpoint) to end as cancelled; any other error fails the job.
type Body func(ctx context.Context, rep *Reporter) error

// Config sizes the job domains. Reconcile and maintenance always run one job
// at a time.
type Config struct {
	TransferJobs int
	MutationJobs int
	// ProgressInterval throttles how often progress is written to the
	// repository. Status changes are always written at once.
	ProgressInterval time.Duration
}

type run struct {
	id     string
	domain Domain
	done   chan struct{}

	cancelled atomic.Bool
	saveMu    sync.Mutex

	mu        sync.Mutex
	job       models.Job
	savedAt   time.Time
	abortWait context.CancelFunc
}

func (r *run) cancelRequested() bool { return r.cancelled.Load() }

func (r *run) snapshot() models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone()
}

// Orchestrator accepts, runs and tracks jobs. Records of running jobs are
// kept in memory and written to the repository on every status change and
// at most once per ProgressInterval otherwise.
type Orchestrator struct {
	repo          jobsrepo.Repository
	logger        logging.Logger
	metrics       *metrics.Metrics
	domains       map[Domain]*pool.Pool
	progressEvery time.Duration
	now           func() time.Time

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	active map[string]*run
	closed bool
}

// New returns an orchestrator over repo. Jobs that a previous process left
// pending or running are marked failed with kind interrupted first.
func New(ctx context.Context, repo jobsrepo.Repository, cfg Config, logger logging.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}

	n, err := repo.MarkInterrupted(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to recover job records: %w", err)
	}
	if n > 0 {
		logger.Warn(ctx, "jobs interrupted by restart marked failed", "count", n)
	}

	base, stop := context.WithCancel(context.WithoutCancel(ctx))
	return &Orchestrator{
		repo:    repo,
		logger:  logger,
		metrics: m,
		domains: map[Domain]*pool.Pool{
			DomainTransfer:    pool.New("jobs_"+string(DomainTransfer), cfg.TransferJobs, m),
			DomainMutation:    pool.New("jobs_"+string(DomainMutation), cfg.MutationJobs, m),
			DomainReconcile:   pool.New("jobs_"+string(DomainReconcile), 1, m),
			DomainMaintenance: pool.New("jobs_"+string(DomainMaintenance), 1, m),
		},
		progressEvery: cfg.ProgressInterval,
		now:           func() time.Time { return time.Now().UTC() },
		base:          base,
		stop:          stop,
		active:        make(map[string]*run),
	}, nil
}

// Submit validates and stores a new pending job, then starts it in the
// background. Validation failures never create a record.
func (o *Orchestrator) Submit(ctx context.Context, t models.JobType, body Body) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%q: %w", t, common.ErrUnknownJobType)
	}
	if body == nil {
		return "", fmt.Errorf("job %s has no body: %w", t, common.ErrValidation)
	}

	r := &run{
		id:     uuid.NewString(),
		domain: DomainOf(t),
		done:   make(chan struct{}),
	}
	r.job = models.Job{ID: r.id, Type: t, Status: models.JobPending, CreatedAt: o.now()}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", ErrClosed
	}
	if err := o.repo.Save(ctx, r.job); err != nil {
		return "", fmt.Errorf("failed to save job: %w", err)
	}
	r.savedAt = o.now()
	o.active[r.id] = r
	o.wg.Add(1)
	go o.execute(r, body)

	o.logger.Info(ctx, "job submitted", "id", r.id, "type", t)
	return r.id, nil
}

func (o *Orchestrator) execute(r *run, body Body) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.active, r.id)
		o.mu.Unlock()
		close(r.done)
	}()

	waitCtx, abort := context.WithCancel(o.base)
	r.mu.Lock()
	r.abortWait = abort
	r.mu.Unlock()
	if r.cancelRequested() {
		abort()
	}

	release, err := o.domains[r.domain].Acquire(waitCtx)
	abort()
	if err == nil {
		defer release()
	}

	if !o.transition(r, models.JobRunning, nil) {
		return
	}
	o.metrics.JobStarted(string(r.domain))

	switch {
	case r.cancelRequested():
		err = common.ErrCancelled
	case err != nil:
		// The wait for a slot ended by shutdown.
		err = fmt.Errorf("%w: %w", common.ErrInterrupted, err)
	default:
		err = o.invoke(r, body)
	}

	status := models.JobCompleted
	var jobErr *models.JobError
	switch {
	case err == nil:
	case errors.Is(err, common.ErrCancelled):
		status = models.JobCancelled
	default:
		status = models.JobFailed
		jobErr = models.NewJobError(err)
	}
	o.transition(r, status, jobErr)

	final := r.snapshot()
	o.metrics.JobFinished(string(r.domain), string(final.Type), string(status), final.CompletedAt.Sub(final.StartedAt))
	if jobErr != nil {
		o.logger.Warn(o.base, "job failed", "id", r.id, "type", final.Type, "kind", jobErr.Kind, "error", jobErr.Message)
	} else {
		o.logger.Info(o.base, "job finished", "id", r.id, "type", final.Type, "status", status)
	}
}

func (o *Orchestrator) invoke(r *run, body Body) (err error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error(o.base, "job body panicked", "id", r.id, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("job body panicked: %v", p)
		}
	}()
	return body(o.base, &Reporter{o: o, r: r})
}

// transition moves r to status and writes the record. It reports false when
// the state machine refused the move.
func (o *Orchestrator) transition(r *run, to models.JobStatus, jobErr *models.JobError) bool {
	r.mu.Lock()
	err := r.job.Transition(to, o.now())
	if err == nil && jobErr != nil {
		r.job.Error = jobErr
	}
	r.mu.Unlock()
	if err != nil {
		o.logger.Error(o.base, "job transition refused", "id", r.id, "error", err)
		return false
	}
	o.persist(r, true)
	return true
}

// persist writes the in-memory record. Progress writes are skipped once the
// job is terminal so they never overwrite the final record.
func (o *Orchestrator) persist(r *run, statusChange bool) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	j := r.job.Clone()
	r.savedAt = o.now()
	r.mu.Unlock()

	if !statusChange && j.Status.Terminal() {
		return
	}
	if err := o.repo.Save(context.WithoutCancel(o.base), j); err != nil {
		o.logger.Warn(o.base, "failed to save job", "id", j.ID, "status", j.Status, "error", err)
	}
}

// Get returns the live record of a running job, or the stored one.
func (o *Orchestrator) Get(ctx context.Context, id string) (models.Job, error) {
	o.mu.Lock()
	r, ok := o.active[id]
	o.mu.Unlock()
	if ok {
		return r.snapshot(), nil
	}
	j, err := o.repo.Get(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	return *j, nil
}

// Cancel asks a job to stop at its next checkpoint. The job context is not
// cancelled. Cancelling a finished job does nothing; an unknown id is
// common.ErrNotFound.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	r, ok := o.active[id]
	o.mu.Unlock()
	if ok {
		if r.cancelled.CompareAndSwap(false, true) {
			r.mu.Lock()
			if r.abortWait != nil {
				r.abortWait()
			}
			r.mu.Unlock()
			o.logger.Info(ctx, "job cancel requested", "id", id)
		}
		return nil
	}
	if _, err := o.repo.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// List returns jobs matching f, newest first, with live progress for jobs
// that are still running.
func (o *Orchestrator) List(ctx context.Context, f models.JobFilter) ([]models.Job, error) {
	stored, err := o.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	live := make(map[string]*run, len(o.active))
	for id, r := range o.active {
		live[id] = r
	}
	o.mu.Unlock()

	out := stored[:0]
	for _, j := range stored {
		if r, ok := live[j.ID]; ok {
			j = r.snapshot()
			if !f.Match(j) {
				continue
			}
		}
		out = append(out, j)
	}
	return out, nil
}

// Cleanup deletes terminal jobs that finished more than olderThan ago.
func (o *Orchestrator) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := o.repo.DeleteTerminalBefore(ctx, o.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	if n > 0 {
		o.logger.Info(ctx, "expired jobs removed", "count", n)
	}
	return n, nil
}

// RunCleanup submits a cleanup job every interval until ctx ends. Failures
// are logged and the loop carries on.
func (o *Orchestrator) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		_, err := o.Submit(ctx, models.JobCleanup, func(ctx context.Context, rep *Reporter) error {
			n, err := o.Cleanup(ctx, retention)
			if err != nil {
				return err
			}
			rep.Report(models.Progress{ItemsDone: n, ItemsTotal: n, Note: fmt.Sprintf("%d expired jobs removed", n)})
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			o.logger.Warn(ctx, "failed to schedule job cleanup", "error", err)
		}
	}
}

// Wait blocks until the job is terminal or ctx ends and returns its record.
func (o *Orchestrator) Wait(ctx context.Context, id string) (models.Job, error) {
	o.mu.Lock()
	r, ok := o.active[id]
	o.mu.Unlock()
	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return models.Job{}, ctx.Err()
		}
	}
	return o.Get(ctx, id)
}

// Active returns the ids of jobs that have not finished yet.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown stops accepting jobs, asks every running job to cancel and waits
// for them. When ctx ends first the job context is cancelled as well and
// ctx.Err() is returned without waiting further.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		_ = o.Cancel(ctx, id)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
		o.stop()
		return ctx.Err()
	}
}
