package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"feedplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	s := NewWithDB(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

var jobColumnNames = []string{
	"id", "feed_type", "status", "payload", "progress", "skipped_count", "failure_reason",
	"result", "version", "created_at", "updated_at", "started_at", "completed_at",
}

func TestCreateJob_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(sqlmock.AnyArg(), store.FeedTypeCatalog, store.JobStatusQueued, sqlmock.AnyArg(), 0, 0, 1, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &store.Job{Payload: store.CatalogFeedPayload{}}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if job.ID == uuid.Nil {
		t.Error("expected job ID to be assigned")
	}
	if job.Status != store.JobStatusQueued {
		t.Errorf("expected status queued, got %s", job.Status)
	}
	if job.FeedType != store.FeedTypeCatalog {
		t.Errorf("expected feed type catalog, got %s", job.FeedType)
	}
	if job.Version != 1 {
		t.Errorf("expected version 1, got %d", job.Version)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateJob_ActiveJobExists(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO jobs`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateJob(context.Background(), &store.Job{Payload: store.CatalogFeedPayload{}})
	if !errors.Is(err, store.ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}
}

func TestCreateJob_RequiresPayload(t *testing.T) {
	s, _ := newMockStore(t)
	defer s.db.Close()

	if err := s.CreateJob(context.Background(), &store.Job{}); err == nil {
		t.Error("expected error for missing payload")
	}
}

func TestGetJob_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	reason := "disk full"
	rows := sqlmock.NewRows(jobColumnNames).
		AddRow(id.String(), "catalog", "failed", []byte(`{"type":"catalog","data":{}}`), 10, 2, reason,
			[]byte(`{"rows_written":8}`), 4, fixedNow, fixedNow, fixedNow, fixedNow)

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.ID != id {
		t.Errorf("got id %v, want %v", job.ID, id)
	}
	if job.Status != store.JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.FailureReason == nil || *job.FailureReason != reason {
		t.Errorf("expected failure reason %q, got %v", reason, job.FailureReason)
	}
	if _, ok := job.Payload.(store.CatalogFeedPayload); !ok {
		t.Errorf("expected catalog payload, got %T", job.Payload)
	}
	if string(job.Result) != `{"rows_written":8}` {
		t.Errorf("unexpected result %s", job.Result)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetJob(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateJob_BumpsVersion(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	job := &store.Job{ID: uuid.New(), Status: store.JobStatusProcessing, Progress: 50, Version: 2}

	mock.ExpectExec(`UPDATE jobs SET .* WHERE id = \$9 AND version = \$10 AND status = \$11`).
		WithArgs(store.JobStatusProcessing, 50, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow, job.ID, 2, store.JobStatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateJob(context.Background(), job, store.JobStatusQueued); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	if job.Version != 3 {
		t.Errorf("expected version 3, got %d", job.Version)
	}
	if !job.UpdatedAt.Equal(fixedNow) {
		t.Errorf("expected updated_at %v, got %v", fixedNow, job.UpdatedAt)
	}
}

func TestUpdateJob_MissedUpdates(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "unknown id",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT status, version FROM jobs`).WillReturnError(sql.ErrNoRows)
			},
			wantErr: store.ErrNotFound,
		},
		{
			name: "terminal job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT status, version FROM jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status", "version"}).AddRow("completed", 3))
			},
			wantErr: store.ErrInvalidTransition,
		},
		{
			name: "stale version",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT status, version FROM jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status", "version"}).AddRow("processing", 5))
			},
			wantErr: store.ErrConflict,
		},
		{
			name: "status moved since read",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT status, version FROM jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status", "version"}).AddRow("queued", 2))
			},
			wantErr: store.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
			tt.setup(mock)

			job := &store.Job{ID: uuid.New(), Status: store.JobStatusCompleted, Version: 2}
			err := s.UpdateJob(context.Background(), job, store.JobStatusProcessing)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if job.Version != 2 {
				t.Errorf("version must not change on a missed update, got %d", job.Version)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestDeleteJob(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM jobs WHERE id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.DeleteJob(context.Background(), id); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}

	mock.ExpectExec(`DELETE FROM jobs WHERE id = \$1`).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeleteJob(context.Background(), uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryJobs_FilterStructure(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	before := fixedNow.Add(-time.Hour)

	// Verify the generated SQL carries every filter and the requested ordering.
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE status = ANY\(\$1\) AND feed_type = \$2 AND updated_at < \$3 ORDER BY updated_at DESC LIMIT \$4`).
		WithArgs(sqlmock.AnyArg(), store.FeedTypeCatalog, before, 1).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(uuid.New().String(), "catalog", "processing", []byte(`{"type":"catalog","data":{}}`), 0, 0, nil, nil, 1, fixedNow, fixedNow, nil, nil))

	jobs, err := s.QueryJobs(context.Background(), store.JobFilter{
		Statuses:      []store.JobStatus{store.JobStatusProcessing},
		FeedType:      store.FeedTypeCatalog,
		UpdatedBefore: before,
		Newest:        true,
		Limit:         1,
	})
	if err != nil {
		t.Fatalf("QueryJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].StartedAt != nil {
		t.Errorf("expected nil started_at, got %v", jobs[0].StartedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestQueryJobs_DefaultLimit(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM jobs ORDER BY created_at ASC LIMIT \$1`).
		WithArgs(store.DefaultQueryLimit).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	jobs, err := s.QueryJobs(context.Background(), store.JobFilter{})
	if err != nil {
		t.Fatalf("QueryJobs failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
}

func TestUpdateJob_RejectsBackwardMoveWithoutQuery(t *testing.T) {
	tests := []struct {
		name     string
		from, to store.JobStatus
	}{
		{"processing to queued", store.JobStatusProcessing, store.JobStatusQueued},
		{"out of completed", store.JobStatusCompleted, store.JobStatusFailed},
		{"rewrite failed", store.JobStatusFailed, store.JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			job := &store.Job{ID: uuid.New(), Status: tt.to, Version: 4}
			err := s.UpdateJob(context.Background(), job, tt.from)
			if !errors.Is(err, store.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unexpected queries: %v", err)
			}
		})
	}
}
