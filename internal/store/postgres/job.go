package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"feedplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, feed_type, status, payload, progress, skipped_count, failure_reason, result, version, created_at, updated_at, started_at, completed_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateJob inserts a new queued job.
// The partial unique index on (feed_type) rejects a second active job.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	if job.Payload == nil {
		return errors.New("job payload is required")
	}
	payload, err := store.EncodePayload(job.Payload)
	if err != nil {
		return err
	}

	now := s.now()
	job.ID = uuid.New()
	job.FeedType = job.Payload.FeedType()
	job.Status = store.JobStatusQueued
	job.Version = 1
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO jobs (id, feed_type, status, payload, progress, skipped_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.FeedType,
		job.Status,
		[]byte(payload),
		job.Progress,
		job.SkippedCount,
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create %s job: %w", job.FeedType, store.ErrJobActive)
		}
		return fmt.Errorf("failed to create %s job: %w", job.FeedType, err)
	}
	return nil
}

// GetJob returns a job by its ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return job, nil
}

// UpdateJob persists the mutable fields of job using its version and the
// status it was read in as a compare-and-set guard. Terminal jobs are never rewritten.
func (s *Store) UpdateJob(ctx context.Context, job *store.Job, from store.JobStatus) error {
	if err := store.CheckUpdate(from, job); err != nil {
		return err
	}

	var result []byte
	if len(job.Result) > 0 {
		result = job.Result
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, progress = $2, skipped_count = $3, failure_reason = $4, result = $5,
		    started_at = $6, completed_at = $7, updated_at = $8, version = version + 1
		WHERE id = $9 AND version = $10 AND status = $11
	`,
		job.Status,
		job.Progress,
		job.SkippedCount,
		job.FailureReason,
		result,
		job.StartedAt,
		job.CompletedAt,
		now,
		job.ID,
		job.Version,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.explainMissedUpdate(ctx, job, from)
	}

	job.Version++
	job.UpdatedAt = now
	return nil
}

// explainMissedUpdate works out why a guarded UPDATE touched no rows.
func (s *Store) explainMissedUpdate(ctx context.Context, job *store.Job, from store.JobStatus) error {
	var (
		status  store.JobStatus
		version int
	)
	err := s.db.QueryRowContext(ctx, "SELECT status, version FROM jobs WHERE id = $1", job.ID).Scan(&status, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrNotFound)
		}
		return err
	}
	if status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, status, store.ErrInvalidTransition)
	}
	if version != job.Version {
		return fmt.Errorf("job %s at version %d, have %d: %w", job.ID, version, job.Version, store.ErrConflict)
	}
	return fmt.Errorf("job %s is %s, not %s: %w", job.ID, status, from, store.ErrInvalidTransition)
}

// DeleteJob removes a job regardless of status.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// QueryJobs lists jobs matching filter.
func (s *Store) QueryJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if filter.FeedType != "" {
		add("feed_type = $%d", filter.FeedType)
	}
	if !filter.UpdatedBefore.IsZero() {
		add("updated_at < $%d", filter.UpdatedBefore)
	}
	if !filter.CompletedBefore.IsZero() {
		add("completed_at < $%d", filter.CompletedBefore)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultQueryLimit
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Newest {
		query += " ORDER BY updated_at DESC"
	} else {
		query += " ORDER BY created_at ASC"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("job query failed: %w", err)
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("job scan failed: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job rows error: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job     store.Job
		payload []byte
		result  []byte
	)
	err := row.Scan(
		&job.ID, &job.FeedType, &job.Status, &payload,
		&job.Progress, &job.SkippedCount, &job.FailureReason, &result,
		&job.Version, &job.CreatedAt, &job.UpdatedAt,
		&job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	p, err := store.DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Payload = p
	if len(result) > 0 {
		job.Result = result
	}
	return &job, nil
}
