package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// MemoryRepository keeps job records in a map.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]models.Job)}
}

func (r *MemoryRepository) Save(_ context.Context, j models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	c := j.Clone()
	return &c, nil
}

func (r *MemoryRepository) List(_ context.Context, f models.JobFilter) ([]models.Job, error) {
	r.mu.RLock()
	out := make([]models.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if f.Match(j) {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		if j.Status.Terminal() && j.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) MarkInterrupted(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		if j.Status.Terminal() {
			continue
		}
		j.Status = models.JobFailed
		j.CompletedAt = now
		j.Error = &models.JobError{Kind: common.KindInterrupted, Message: common.ErrInterrupted.Error()}
		r.jobs[id] = j
		n++
	}
	return n, nil
}
