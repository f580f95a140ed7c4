package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_TransitionHappyPath(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	j := &Job{ID: "1", Type: JobUpload, Status: JobPending, CreatedAt: t0}

	require.NoError(t, j.Transition(JobRunning, t0.Add(time.Second)))
	assert.Equal(t, t0.Add(time.Second), j.StartedAt)

	j.Progress.Percent = 40
	require.NoError(t, j.Transition(JobCompleted, t0.Add(2*time.Second)))
	assert.Equal(t, t0.Add(2*time.Second), j.CompletedAt)
	assert.Equal(t, float64(100), j.Progress.Percent)
}

func TestJob_TerminalStatesAreFinal(t *testing.T) {
	all := []JobStatus{JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled}
	done := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, from := range []JobStatus{JobCompleted, JobFailed, JobCancelled} {
		for _, to := range all {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				j := &Job{Status: from, CompletedAt: done}
				err := j.Transition(to, done.Add(time.Hour))
				require.ErrorIs(t, err, common.ErrInvalidTransition)
				assert.Equal(t, from, j.Status)
				assert.Equal(t, done, j.CompletedAt)
			})
		}
	}
}

func TestJob_PendingCannotSkipRunning(t *testing.T) {
	for _, to := range []JobStatus{JobCompleted, JobFailed, JobCancelled, JobPending} {
		j := &Job{Status: JobPending}
		require.ErrorIs(t, j.Transition(to, time.Now()), common.ErrInvalidTransition, to)
	}
}

func TestJobFilter_Match(t *testing.T) {
	j := Job{Type: JobUpload, Status: JobFailed}

	assert.True(t, JobFilter{}.Match(j))
	assert.True(t, JobFilter{Types: []JobType{JobUpload, JobDelete}}.Match(j))
	assert.False(t, JobFilter{Types: []JobType{JobDelete}}.Match(j))
	assert.True(t, JobFilter{Statuses: []JobStatus{JobFailed}}.Match(j))
	assert.False(t, JobFilter{Types: []JobType{JobUpload}, Statuses: []JobStatus{JobRunning}}.Match(j))
}

func TestNewJobError(t *testing.T) {
	je := NewJobError(fmt.Errorf("publish: %w", common.ErrForceRequired))
	assert.Equal(t, common.KindForceRequired, je.Kind)
	assert.Contains(t, je.Message, "publish")

	je = NewJobError(errors.New("disk on fire"))
	assert.Equal(t, common.KindInternal, je.Kind)
}

func TestJobType_Valid(t *testing.T) {
	for _, jt := range JobTypes {
		assert.True(t, jt.Valid(), jt)
	}
	assert.False(t, JobType("teleport").Valid())
}
