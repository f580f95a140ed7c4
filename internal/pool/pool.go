// Package pool bounds blocking calls per resource domain. Each Pool has a
// fixed number of slots; a caller that finds the pool saturated queues until
// a slot frees up or its context ends.
package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// Pool is a named, bounded set of slots for blocking calls.
type Pool struct {
	name     string
	size     int
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	metrics  *metrics.Metrics
}

// New returns a pool with size slots. Sizes below one are raised to one.
func New(name string, size int, m *metrics.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name:    name,
		size:    size,
		sem:     semaphore.NewWeighted(int64(size)),
		metrics: m,
	}
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Size() int    { return p.size }

// InFlight returns the number of slots currently held.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Acquire waits for a slot. The returned release func must be called exactly
// once. When ctx ends first the error wraps common.ErrResourceExhausted and
// the context error.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.metrics.PoolRejectedCall(p.name)
		return nil, fmt.Errorf("%s pool: %w: %w", p.name, common.ErrResourceExhausted, err)
	}
	p.inFlight.Add(1)
	p.metrics.PoolAcquired(p.name, time.Since(start))

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			p.inFlight.Add(-1)
			p.metrics.PoolReleased(p.name)
			p.sem.Release(1)
		}
	}, nil
}

// Do runs fn while holding a slot.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Call runs fn on p and returns its result.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Pools groups the three resource domains.
type Pools struct {
	Remote  *Pool
	FS      *Pool
	Catalog *Pool
}

// NewPools builds the remote, filesystem and catalog pools.
func NewPools(remote, fs, catalog int, m *metrics.Metrics) *Pools {
	return &Pools{
		Remote:  New("remote", remote, m),
		FS:      New("fs", fs, m),
		Catalog: New("catalog", catalog, m),
	}
}
