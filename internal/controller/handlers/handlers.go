// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"feedplane/internal/cache"
	"feedplane/internal/logger"
	"feedplane/internal/scheduler"
	"feedplane/internal/store"
	"feedplane/internal/upload"
	"feedplane/pkg/api"

	"github.com/google/uuid"
)

// JobService is the job lifecycle as seen by operators.
type JobService interface {
	CreateJob(ctx context.Context, payload store.Payload) (*store.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// QueueReader answers queue questions for a caller scope.
type QueueReader interface {
	IsQueueEmpty(ctx context.Context, scope cache.Scope) (bool, error)
	HasJobsInStatus(ctx context.Context, scope cache.Scope, status store.JobStatus) (bool, error)
}

// Ticker runs a scheduler tick on demand.
type Ticker interface {
	Tick(ctx context.Context, feedType store.FeedType, force bool) (scheduler.Outcome, error)
}

// UploadChecker resolves upload references.
type UploadChecker interface {
	Check(ctx context.Context, ref string) (upload.Result, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Jobs      JobService
	Queue     QueueReader
	Scheduler Ticker
	Uploads   UploadChecker
	DB        Pinger
	Logger    *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	jobs      JobService
	queue     QueueReader
	scheduler Ticker
	uploads   UploadChecker
	db        Pinger
	log       *slog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	return &Handlers{
		jobs:      d.Jobs,
		queue:     d.Queue,
		scheduler: d.Scheduler,
		uploads:   d.Uploads,
		db:        d.DB,
		log:       d.Logger.With("component", "api"),
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// storeError maps lifecycle errors onto status codes.
func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, store.ErrJobActive),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		h.httpError(w, err.Error(), http.StatusConflict)
	default:
		logger.FromContext(r.Context(), h.log).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal error", http.StatusInternalServerError)
	}
}

func toJobResponse(j *store.Job) api.JobResponse {
	resp := api.JobResponse{
		ID:            j.ID.String(),
		FeedType:      string(j.FeedType),
		Status:        string(j.Status),
		Progress:      j.Progress,
		SkippedCount:  j.SkippedCount,
		FailureReason: j.FailureReason,
		Result:        j.Result,
		Version:       j.Version,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
	if j.Payload != nil {
		if raw, err := store.EncodePayload(j.Payload); err == nil {
			resp.Payload = raw
		}
	}
	return resp
}
