// Package worker runs jobs end to end and polls for jobs queued by operators.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"feedplane/internal/jobs"
	"feedplane/internal/logger"
	"feedplane/internal/observability"
	"feedplane/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotClaimed is returned when another worker started the job first.
var ErrNotClaimed = errors.New("worker: job was claimed by another worker")

// DefaultRunTimeout bounds a single job run.
const DefaultRunTimeout = 30 * time.Minute

// ProgressFunc records intermediate counts while a handler runs.
type ProgressFunc func(ctx context.Context, written, skipped int) error

// Handler does the work of one feed type.
type Handler interface {
	Run(ctx context.Context, job *store.Job, progress ProgressFunc) (store.JobResult, error)
}

// Lifecycle is the slice of jobs.Lifecycle the executor drives.
type Lifecycle interface {
	StartJob(ctx context.Context, job *store.Job) (*store.Job, error)
	UpdateJob(ctx context.Context, job *store.Job, invalidateCache bool) (*store.Job, error)
	CompleteJob(ctx context.Context, job *store.Job) (*store.Job, error)
	FailJob(ctx context.Context, job *store.Job, reason string) (*store.Job, error)
}

// Executor runs a job to a terminal state.
type Executor struct {
	life    Lifecycle
	timeout time.Duration
	log     *slog.Logger

	mu       sync.RWMutex
	handlers map[store.FeedType]Handler
}

// NewExecutor creates an Executor. A non-positive timeout uses DefaultRunTimeout.
func NewExecutor(life Lifecycle, timeout time.Duration, log *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Executor{
		life:     life,
		timeout:  timeout,
		log:      log.With("component", "executor"),
		handlers: make(map[store.FeedType]Handler),
	}
}

// Register installs h for feedType, replacing any previous handler.
func (e *Executor) Register(feedType store.FeedType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[feedType] = h
}

func (e *Executor) handler(feedType store.FeedType) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[feedType]
	return h, ok
}

// Execute starts job if it is queued, runs its handler under the run budget and
// completes or fails it. The returned job is the last persisted state.
func (e *Executor) Execute(ctx context.Context, job *store.Job) (*store.Job, error) {
	ctx, span := observability.Tracer("worker").Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.feed_type", string(job.FeedType)),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := e.log.With("job_id", job.ID, "feed_type", job.FeedType)

	switch job.Status {
	case store.JobStatusQueued:
		started, err := e.life.StartJob(ctx, job)
		if err != nil {
			if jobs.IsInvariantViolation(err) {
				log.Info("job already claimed", "error", err)
				return nil, fmt.Errorf("job %s: %w", job.ID, ErrNotClaimed)
			}
			return nil, err
		}
		job = started
	case store.JobStatusProcessing:
	default:
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, store.ErrInvalidTransition)
	}

	// Terminal writes must land even when the caller is shutting down.
	finishCtx := context.WithoutCancel(ctx)

	h, ok := e.handler(job.FeedType)
	if !ok {
		return e.fail(finishCtx, log, span, job, fmt.Errorf("no handler registered for feed type %q", job.FeedType))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	current := job
	progress := func(ctx context.Context, written, skipped int) error {
		next := current.Clone()
		next.Progress = written
		next.SkippedCount = skipped
		updated, err := e.life.UpdateJob(ctx, next, false)
		if err != nil {
			if jobs.IsInvariantViolation(err) || errors.Is(err, store.ErrNotFound) {
				// Reclaimed or deleted underneath us; stop writing.
				return fmt.Errorf("job no longer owned by this run: %w", err)
			}
			log.Warn("progress update failed", "error", err)
			return nil
		}
		current = updated
		return nil
	}

	log.Info("running job")
	result, err := runHandler(runCtx, h, job, progress)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("run exceeded budget of %s: %w", e.timeout, err)
		}
		return e.fail(finishCtx, log, span, current, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return e.fail(finishCtx, log, span, current, fmt.Errorf("failed to encode job result: %w", err))
	}
	done := current.Clone()
	done.Progress = result.RowsWritten
	done.SkippedCount = result.Skipped
	done.Result = raw

	completed, err := e.life.CompleteJob(finishCtx, done)
	if err != nil {
		if jobs.IsInvariantViolation(err) || errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return e.fail(finishCtx, log, span, current, fmt.Errorf("failed to record completion: %w", err))
	}
	span.SetAttributes(attribute.Int("job.rows_written", result.RowsWritten), attribute.Int("job.skipped", result.Skipped))
	return completed, nil
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, span trace.Span, job *store.Job, cause error) (*store.Job, error) {
	observability.FailSpan(span, cause)
	log.Error("job failed", "error", cause, "error_kind", "transient")

	failed, err := e.life.FailJob(ctx, job, cause.Error())
	if err != nil {
		return nil, errors.Join(cause, fmt.Errorf("failed to record failure: %w", err))
	}
	return failed, cause
}

// runHandler converts a handler panic into an error so the job still fails cleanly.
func runHandler(ctx context.Context, h Handler, job *store.Job, progress ProgressFunc) (result store.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Run(ctx, job, progress)
}
