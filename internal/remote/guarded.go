package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/metrics"
	"github.com/dmitrijs2005/mediakeeper/internal/pool"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy applies to idempotent calls only.
type RetryPolicy struct {
	// Timeout bounds one attempt. Zero disables it.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first.
	Retries int
	// Backoff is the first delay; it doubles per attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Guarded routes every call of an ObjectStore through the remote pool.
// List, Stat, Delete and opening a Get are retried on transient errors with
// a per-attempt timeout. Put and Copy are attempted once.
type Guarded struct {
	store   ObjectStore
	pool    *pool.Pool
	policy  RetryPolicy
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewGuarded(store ObjectStore, p *pool.Pool, policy RetryPolicy, m *metrics.Metrics, logger logging.Logger) *Guarded {
	if logger == nil {
		logger = logging.Nop()
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 200 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 30 * time.Second
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	return &Guarded{store: store, pool: p, policy: policy, metrics: m, logger: logger}
}

// retryable reports whether a failed attempt may be repeated. An attempt
// that hit its own timeout while the caller is still waiting counts as
// transient.
func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil || errors.Is(err, common.ErrResourceExhausted) {
		return false
	}
	return errors.Is(err, common.ErrRemoteTransient) || errors.Is(err, context.DeadlineExceeded)
}

// backoff is the delay schedule of one call. last points at the error of
// the attempt being retried.
func (g *Guarded) backoff(ctx context.Context, op string, last *error) retry.Backoff {
	b := retry.WithMaxRetries(uint64(g.policy.Retries),
		retry.WithCappedDuration(g.policy.MaxBackoff, retry.NewExponential(g.policy.Backoff)))
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		attempt++
		g.metrics.RemoteRetry(op)
		g.logger.Debug(ctx, "retrying remote call", "op", op, "attempt", attempt, "backoff", d.String(), "error", *last)
		return d, false
	})
}

func (g *Guarded) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.policy.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.policy.Timeout)
}

func (g *Guarded) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	err := retry.Do(ctx, g.backoff(ctx, op, &last), func(ctx context.Context) error {
		err := g.pool.Do(ctx, func(ctx context.Context) error {
			cctx, cancel := g.withTimeout(ctx)
			defer cancel()
			return fn(cctx)
		})
		g.metrics.RemoteCall(op, err)
		last = err
		if err != nil && retryable(ctx, err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, common.ErrRemoteTransient) && ctx.Err() == nil {
		err = fmt.Errorf("%s timed out: %w: %w", op, common.ErrRemoteTransient, err)
	}
	return err
}

func (g *Guarded) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := g.retry(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = g.store.List(ctx, prefix)
		return err
	})
	return out, err
}

func (g *Guarded) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var out ObjectInfo
	err := g.retry(ctx, "stat", func(ctx context.Context) error {
		var err error
		out, err = g.store.Stat(ctx, key)
		return err
	})
	return out, err
}

func (g *Guarded) Delete(ctx context.Context, key string) error {
	return g.retry(ctx, "delete", func(ctx context.Context) error {
		return g.store.Delete(ctx, key)
	})
}

// Get retries opening the object. The returned body keeps its pool slot
// until Close; the per-attempt timeout stops applying once the object is
// open, so long reads are not cut off.
func (g *Guarded) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	var (
		last error
		info ObjectInfo
	)
	body, err := retry.DoValue(ctx, g.backoff(ctx, "get", &last), func(ctx context.Context) (io.ReadCloser, error) {
		release, err := g.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		octx, cancel := context.WithCancel(ctx)
		var timer *time.Timer
		if g.policy.Timeout > 0 {
			timer = time.AfterFunc(g.policy.Timeout, cancel)
		}
		body, i, err := g.store.Get(octx, key)
		if timer != nil && !timer.Stop() && err == nil {
			// The timer fired while the object was opening.
			_ = body.Close()
			err = fmt.Errorf("get %s timed out: %w", key, common.ErrRemoteTransient)
		}
		g.metrics.RemoteCall("get", err)

		if err == nil {
			info = i
			return &guardedBody{ReadCloser: body, release: release, cancel: cancel, metrics: g.metrics}, nil
		}
		cancel()
		release()
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			err = fmt.Errorf("get %s timed out: %w: %w", key, common.ErrRemoteTransient, err)
		}
		last = err
		if retryable(ctx, err) {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return body, info, nil
}

// Put is not retried: a failed upload may have partially landed.
func (g *Guarded) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (ObjectInfo, error) {
	info, err := pool.Call(ctx, g.pool, func(ctx context.Context) (ObjectInfo, error) {
		return g.store.Put(ctx, key, r, size, opts)
	})
	g.metrics.RemoteCall("put", err)
	if err == nil {
		g.metrics.RecordUpload(size)
	}
	return info, err
}

func (g *Guarded) Copy(ctx context.Context, src, dst string) error {
	err := g.pool.Do(ctx, func(ctx context.Context) error {
		cctx, cancel := g.withTimeout(ctx)
		defer cancel()
		return g.store.Copy(cctx, src, dst)
	})
	g.metrics.RemoteCall("copy", err)
	return err
}

type guardedBody struct {
	io.ReadCloser
	release func()
	cancel  context.CancelFunc
	metrics *metrics.Metrics
	n       int64
	once    sync.Once
}

func (b *guardedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	return n, err
}

func (b *guardedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() {
		b.cancel()
		b.release()
		b.metrics.RecordDownload(b.n)
	})
	return err
}
