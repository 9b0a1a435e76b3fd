// Package jobs owns the job state machine and keeps the queue cache in step with it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedplane/internal/logger"
	"feedplane/internal/observability"
	"feedplane/internal/store"

	"github.com/google/uuid"
)

// Invalidator clears memoized queue answers.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Options configures a Lifecycle.
type Options struct {
	Logger      *slog.Logger
	Instruments *observability.Instruments
}

// Lifecycle creates and moves jobs through queued -> processing -> {completed|failed}.
// Every change of queue membership invalidates the cache; progress-only updates do not.
type Lifecycle struct {
	store   store.JobStore
	cache   Invalidator
	log     *slog.Logger
	metrics *observability.Instruments
	now     func() time.Time
}

// New creates a Lifecycle over s, invalidating cache on membership changes.
func New(s store.JobStore, cache Invalidator, opts Options) *Lifecycle {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Lifecycle{
		store:   s,
		cache:   cache,
		log:     opts.Logger.With("component", "jobs"),
		metrics: opts.Instruments,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IsInvariantViolation reports whether err signals a scheduling or logic bug
// rather than a resource failure. Such errors must not be retried blindly.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, store.ErrInvalidTransition) ||
		errors.Is(err, store.ErrJobActive) ||
		errors.Is(err, store.ErrConflict)
}

// ErrorKind classifies err for logs: invariant, not_found or transient.
func ErrorKind(err error) string {
	switch {
	case IsInvariantViolation(err):
		return "invariant"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "transient"
	}
}

func (l *Lifecycle) logFailure(op string, job *store.Job, err error) {
	log := l.log.With("op", op, "error", err, "error_kind", ErrorKind(err))
	if job != nil {
		log = log.With("job_id", job.ID, "feed_type", job.FeedType)
	}
	switch ErrorKind(err) {
	case "invariant":
		log.Warn("job operation rejected")
	case "not_found":
		log.Info("job not found")
	default:
		log.Error("job operation failed")
	}
}

func (l *Lifecycle) invalidate(ctx context.Context) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx); err != nil {
		// Slots expire on their own; the state change already happened.
		l.log.Warn("queue cache invalidation failed", "error", err)
	}
}

// CreateJob inserts a queued job for payload. A second active job of the
// same feed type is rejected with store.ErrJobActive.
func (l *Lifecycle) CreateJob(ctx context.Context, payload store.Payload) (*store.Job, error) {
	if payload == nil {
		return nil, errors.New("job payload is required")
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", payload.FeedType(), err)
	}

	// Cheap pre-check; the unique index settles any race.
	active, err := l.store.QueryJobs(ctx, store.JobFilter{
		Statuses: store.ActiveStatuses,
		FeedType: payload.FeedType(),
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check active %s jobs: %w", payload.FeedType(), err)
	}
	if len(active) > 0 {
		err := fmt.Errorf("job %s is %s: %w", active[0].ID, active[0].Status, store.ErrJobActive)
		l.logFailure("create", &store.Job{FeedType: payload.FeedType()}, err)
		return nil, err
	}

	job := &store.Job{Payload: payload}
	if err := l.store.CreateJob(ctx, job); err != nil {
		l.logFailure("create", &store.Job{FeedType: payload.FeedType()}, err)
		return nil, err
	}

	l.invalidate(ctx)
	l.metrics.JobTransition(ctx, string(job.FeedType), string(job.Status))
	l.log.Info("job created", "job_id", job.ID, "feed_type", job.FeedType)
	return job, nil
}

// GetJob returns a job by id.
func (l *Lifecycle) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	return l.store.GetJob(ctx, id)
}

// ListJobs returns jobs matching filter.
func (l *Lifecycle) ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	return l.store.QueryJobs(ctx, filter)
}

// UpdateJob persists field changes such as progress. The status must stay
// the one the job was read in; StartJob, CompleteJob and FailJob move it.
// The cache is only invalidated when invalidateCache is set, so frequent
// progress ticks do not thrash it.
func (l *Lifecycle) UpdateJob(ctx context.Context, job *store.Job, invalidateCache bool) (*store.Job, error) {
	if !job.Status.Valid() {
		return nil, fmt.Errorf("job %s has unknown status %q", job.ID, job.Status)
	}
	next := job.Clone()
	if err := l.store.UpdateJob(ctx, next, job.Status); err != nil {
		l.logFailure("update", job, err)
		return nil, err
	}
	if invalidateCache {
		l.invalidate(ctx)
	}
	return next, nil
}

// StartJob moves a queued job to processing.
func (l *Lifecycle) StartJob(ctx context.Context, job *store.Job) (*store.Job, error) {
	return l.transition(ctx, "start", job, store.JobStatusProcessing, func(j *store.Job) {
		now := l.now()
		j.StartedAt = &now
	})
}

// CompleteJob marks job completed. It fails if the job is already terminal.
func (l *Lifecycle) CompleteJob(ctx context.Context, job *store.Job) (*store.Job, error) {
	return l.transition(ctx, "complete", job, store.JobStatusCompleted, func(j *store.Job) {
		now := l.now()
		j.CompletedAt = &now
		j.FailureReason = nil
	})
}

// FailJob marks job failed with reason. It fails if the job is already terminal.
func (l *Lifecycle) FailJob(ctx context.Context, job *store.Job, reason string) (*store.Job, error) {
	if reason == "" {
		reason = "unknown failure"
	}
	return l.transition(ctx, "fail", job, store.JobStatusFailed, func(j *store.Job) {
		now := l.now()
		j.CompletedAt = &now
		j.FailureReason = &reason
	})
}

func (l *Lifecycle) transition(ctx context.Context, op string, job *store.Job, to store.JobStatus, mutate func(*store.Job)) (*store.Job, error) {
	if !store.CanTransition(job.Status, to) || job.Status == to {
		err := fmt.Errorf("job %s cannot move from %s to %s: %w", job.ID, job.Status, to, store.ErrInvalidTransition)
		l.logFailure(op, job, err)
		return nil, err
	}

	next := job.Clone()
	next.Status = to
	mutate(next)

	if err := l.store.UpdateJob(ctx, next, job.Status); err != nil {
		l.logFailure(op, job, err)
		return nil, err
	}

	l.invalidate(ctx)
	l.metrics.JobTransition(ctx, string(next.FeedType), string(to))
	l.log.Info("job "+string(to), "job_id", next.ID, "feed_type", next.FeedType)
	return next, nil
}

// DeleteJob removes a job whatever its status.
func (l *Lifecycle) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := l.store.DeleteJob(ctx, id); err != nil {
		l.logFailure("delete", &store.Job{ID: id}, err)
		return err
	}
	l.invalidate(ctx)
	l.log.Info("job deleted", "job_id", id)
	return nil
}

// ReclaimStale fails processing jobs of feedType (all types when empty) that
// have not been touched for threshold. It returns how many were reclaimed.
func (l *Lifecycle) ReclaimStale(ctx context.Context, feedType store.FeedType, threshold time.Duration) (int, error) {
	stale, err := l.store.QueryJobs(ctx, store.JobFilter{
		Statuses:      []store.JobStatus{store.JobStatusProcessing},
		FeedType:      feedType,
		UpdatedBefore: l.now().Add(-threshold),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	reclaimed := 0
	for _, job := range stale {
		reason := "stale: no progress since " + job.UpdatedAt.UTC().Format(time.RFC3339)
		if _, err := l.FailJob(ctx, job, reason); err != nil {
			if IsInvariantViolation(err) || errors.Is(err, store.ErrNotFound) {
				// Moved on or removed since the query.
				continue
			}
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// PurgeExpired deletes terminal jobs that finished more than retention ago.
func (l *Lifecycle) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	expired, err := l.store.QueryJobs(ctx, store.JobFilter{
		Statuses:        []store.JobStatus{store.JobStatusCompleted, store.JobStatusFailed},
		CompletedBefore: l.now().Add(-retention),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find expired jobs: %w", err)
	}

	purged := 0
	for _, job := range expired {
		if err := l.store.DeleteJob(ctx, job.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return purged, fmt.Errorf("failed to purge job %s: %w", job.ID, err)
		}
		purged++
	}
	if purged > 0 {
		l.invalidate(ctx)
		l.log.Info("purged expired jobs", "count", purged)
	}
	return purged, nil
}

// ActiveCount returns the number of queued or processing jobs, capped at the default query limit.
func (l *Lifecycle) ActiveCount(ctx context.Context) (int64, error) {
	jobs, err := l.store.QueryJobs(ctx, store.JobFilter{Statuses: store.ActiveStatuses})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}
