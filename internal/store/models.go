// Package store contains the database layer for feedplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ActiveStatuses are the non-terminal statuses. At most one job per feed type
// may hold one of them at any time.
var ActiveStatuses = []JobStatus{JobStatusQueued, JobStatusProcessing}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}

// IsTerminal reports whether no further transition is permitted from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether s counts as pending work.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// Transitions only move forward: queued -> processing -> {completed|failed}.
// A queued job may also finish directly.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return !from.IsTerminal()
	}
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing || to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}

// Job is a persisted unit of asynchronous work.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	FeedType      FeedType        `json:"feed_type"`
	Status        JobStatus       `json:"status"`
	Payload       Payload         `json:"-"`
	Progress      int             `json:"progress"`
	SkippedCount  int             `json:"skipped_count"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate a job without touching a shared instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.FailureReason != nil {
		reason := *j.FailureReason
		c.FailureReason = &reason
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobResult is the outcome recorded on a completed feed job.
type JobResult struct {
	FilePath    string `json:"file_path,omitempty"`
	RowsWritten int    `json:"rows_written"`
	Skipped     int    `json:"skipped"`
	UploadRef   string `json:"upload_ref,omitempty"`
}

// JobFilter narrows QueryJobs. Zero values mean "no constraint".
type JobFilter struct {
	Statuses        []JobStatus
	FeedType        FeedType
	UpdatedBefore   time.Time
	CompletedBefore time.Time
	// Newest orders by updated_at descending; otherwise results follow creation order.
	Newest bool
	Limit  int
}

// DefaultQueryLimit caps QueryJobs when the filter carries no limit.
const DefaultQueryLimit = 100
