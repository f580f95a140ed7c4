package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
)

// JobType enumerates the work the orchestrator accepts.
type JobType string

const (
	JobDownload       JobType = "download"
	JobUpload         JobType = "upload"
	JobBatchUpload    JobType = "batch-upload"
	JobDelete         JobType = "delete"
	JobBatchDelete    JobType = "batch-delete"
	JobRename         JobType = "rename"
	JobThumbnail      JobType = "thumbnail"
	JobDriveDownload  JobType = "drive-download"
	JobCatalogImport  JobType = "catalog-import"
	JobCatalogPublish JobType = "catalog-publish"
	JobCatalogRebuild JobType = "catalog-rebuild"
	JobCleanup        JobType = "cleanup"
)

// JobTypes lists every known job type.
var JobTypes = []JobType{
	JobDownload, JobUpload, JobBatchUpload, JobDelete, JobBatchDelete, JobRename,
	JobThumbnail, JobDriveDownload, JobCatalogImport, JobCatalogPublish,
	JobCatalogRebuild, JobCleanup,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return slices.Contains(JobTypes, t)
}

// JobStatus is a state of the job state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Progress is pushed by job bodies into the stored record.
type Progress struct {
	Percent     float64       `json:"percent"`
	BytesDone   int64         `json:"bytes_done,omitempty"`
	BytesTotal  int64         `json:"bytes_total,omitempty"`
	ItemsDone   int           `json:"items_done,omitempty"`
	ItemsTotal  int           `json:"items_total,omitempty"`
	CurrentItem string        `json:"current_item,omitempty"`
	ETA         time.Duration `json:"eta,omitempty"`
	Note        string        `json:"note,omitempty"`
}

// JobError is the renderable failure of a job.
type JobError struct {
	Kind    common.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func (e *JobError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewJobError captures err with its kind.
func NewJobError(err error) *JobError {
	return &JobError{Kind: common.KindOf(err), Message: err.Error()}
}

// Job is the stored record of one unit of asynchronous work.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Progress    Progress
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Error       *JobError
}

var transitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
}

// Transition moves j to status to at now, stamping StartedAt/CompletedAt.
// Completed jobs get Percent forced to 100.
func (j *Job) Transition(to JobStatus, now time.Time) error {
	if !slices.Contains(transitions[j.Status], to) {
		return fmt.Errorf("%s -> %s: %w", j.Status, to, common.ErrInvalidTransition)
	}

	j.Status = to
	switch {
	case to == JobRunning:
		j.StartedAt = now
	case to.Terminal():
		j.CompletedAt = now
		if to == JobCompleted {
			j.Progress.Percent = 100
		}
	}
	return nil
}

// Clone returns a copy of j that shares no pointers with it.
func (j Job) Clone() Job {
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	return j
}

// JobFilter narrows job listings. Zero values match everything.
type JobFilter struct {
	Types    []JobType
	Statuses []JobStatus
	Limit    int
}

// Match reports whether j passes the type and status filters.
func (f JobFilter) Match(j Job) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, j.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, j.Status) {
		return false
	}
	return true
}
