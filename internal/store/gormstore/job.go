package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedplane/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type jobRecord struct {
	ID            string  `gorm:"primaryKey;size:36"`
	FeedType      string  `gorm:"size:32;not null"`
	Status        string  `gorm:"size:16;not null;index:jobs_status_updated_at,priority:1"`
	Payload       []byte  `gorm:"not null"`
	Progress      int     `gorm:"not null;default:0"`
	SkippedCount  int     `gorm:"not null;default:0"`
	FailureReason *string
	Result        []byte
	Version       int       `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime:false;index:jobs_status_updated_at,priority:2"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

func (jobRecord) TableName() string { return "jobs" }

func (r *jobRecord) toJob() (*store.Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", r.ID, err)
	}
	payload, err := store.DecodePayload(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	job := &store.Job{
		ID:            id,
		FeedType:      store.FeedType(r.FeedType),
		Status:        store.JobStatus(r.Status),
		Payload:       payload,
		Progress:      r.Progress,
		SkippedCount:  r.SkippedCount,
		FailureReason: r.FailureReason,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
	if len(r.Result) > 0 {
		job.Result = r.Result
	}
	return job, nil
}

// CreateJob inserts a new queued job.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	if job.Payload == nil {
		return errors.New("job payload is required")
	}
	payload, err := store.EncodePayload(job.Payload)
	if err != nil {
		return err
	}

	now := s.now()
	rec := jobRecord{
		ID:           uuid.NewString(),
		FeedType:     string(job.Payload.FeedType()),
		Status:       string(store.JobStatusQueued),
		Payload:      payload,
		Progress:     job.Progress,
		SkippedCount: job.SkippedCount,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create %s job: %w", rec.FeedType, store.ErrJobActive)
		}
		return fmt.Errorf("failed to create %s job: %w", rec.FeedType, err)
	}

	job.ID = uuid.MustParse(rec.ID)
	job.FeedType = store.FeedType(rec.FeedType)
	job.Status = store.JobStatusQueued
	job.Version = 1
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// GetJob returns a job by its ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return rec.toJob()
}

// UpdateJob persists the mutable fields of job guarded by its version and
// the status it was read in. Terminal jobs are never rewritten.
func (s *Store) UpdateJob(ctx context.Context, job *store.Job, from store.JobStatus) error {
	if err := store.CheckUpdate(from, job); err != nil {
		return err
	}

	var result []byte
	if len(job.Result) > 0 {
		result = job.Result
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND version = ? AND status = ?", job.ID.String(), job.Version, string(from)).
		Updates(map[string]any{
			"status":         string(job.Status),
			"progress":       job.Progress,
			"skipped_count":  job.SkippedCount,
			"failure_reason": job.FailureReason,
			"result":         result,
			"started_at":     job.StartedAt,
			"completed_at":   job.CompletedAt,
			"updated_at":     now,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.explainMissedUpdate(ctx, job, from)
	}

	job.Version++
	job.UpdatedAt = now
	return nil
}

func (s *Store) explainMissedUpdate(ctx context.Context, job *store.Job, from store.JobStatus) error {
	var rec jobRecord
	err := s.db.WithContext(ctx).Select("status", "version").Where("id = ?", job.ID.String()).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrNotFound)
		}
		return err
	}
	if store.JobStatus(rec.Status).IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, rec.Status, store.ErrInvalidTransition)
	}
	if rec.Version != job.Version {
		return fmt.Errorf("job %s at version %d, have %d: %w", job.ID, rec.Version, job.Version, store.ErrConflict)
	}
	return fmt.Errorf("job %s is %s, not %s: %w", job.ID, rec.Status, from, store.ErrInvalidTransition)
}

// DeleteJob removes a job regardless of status.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&jobRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// QueryJobs lists jobs matching filter.
func (s *Store) QueryJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	q := s.db.WithContext(ctx).Model(&jobRecord{})

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.FeedType != "" {
		q = q.Where("feed_type = ?", string(filter.FeedType))
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", filter.UpdatedBefore)
	}
	if !filter.CompletedBefore.IsZero() {
		q = q.Where("completed_at < ?", filter.CompletedBefore)
	}
	if filter.Newest {
		q = q.Order("updated_at DESC")
	} else {
		q = q.Order("created_at ASC")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultQueryLimit
	}

	var recs []jobRecord
	if err := q.Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("job query failed: %w", err)
	}

	jobs := make([]*store.Job, 0, len(recs))
	for i := range recs {
		job, err := recs[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
