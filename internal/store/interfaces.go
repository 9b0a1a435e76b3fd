package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStore handles the persistence of job records.
// Implementations must:
//   - assign ID, Version, CreatedAt and UpdatedAt on create;
//   - reject a second active job of the same feed type with ErrJobActive;
//   - fail UpdateJob with ErrNotFound for unknown ids rather than inserting;
//   - only write UpdateJob when the stored status still equals from, and fail
//     with ErrInvalidTransition when it does not or when from -> job.Status is not allowed;
//   - fail UpdateJob with ErrConflict when job.Version does not match the stored version.
type JobStore interface {
	// CreateJob inserts job with status queued and fills in its generated fields.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns a job by its ID.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// UpdateJob persists all mutable fields of job and bumps its version.
	// from is the status the caller read the job in.
	UpdateJob(ctx context.Context, job *Job, from JobStatus) error

	// DeleteJob removes a job regardless of its status.
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// QueryJobs lists jobs matching filter.
	QueryJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
}

// CacheStore is a small key/value store with per-entry expiry.
// Expired entries behave exactly like missing ones.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
