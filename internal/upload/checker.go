package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"feedplane/internal/logger"
	"feedplane/internal/observability"
	"feedplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Reference prefixes.
const (
	RemotePrefix = "remote:"
	JobPrefix    = "job:"
)

// Status is the coarse state of an upload.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Result is the answer to a completion check.
type Result struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JobReader is the read side of the job store.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error)
}

// Checker reports whether an upload has been ingested. It never writes.
type Checker struct {
	client *Client
	jobs   JobReader
	log    *slog.Logger
}

// NewChecker creates a Checker. client may be nil when no endpoint is configured.
func NewChecker(client *Client, jobs JobReader, log *slog.Logger) *Checker {
	if log == nil {
		log = logger.Discard()
	}
	return &Checker{client: client, jobs: jobs, log: log.With("component", "upload_checker")}
}

// Check resolves ref to pending, complete or error. Timeouts and server-side
// failures read as pending since the remote may still be working. A non-nil
// error always comes with StatusError and wraps one of the package sentinels
// or the endpoint's StatusError.
func (c *Checker) Check(ctx context.Context, ref string) (Result, error) {
	ctx, span := observability.Tracer("upload").Start(ctx, "upload.check")
	defer span.End()
	span.SetAttributes(attribute.String("upload.ref", ref))

	res, err := c.resolve(ctx, ref)
	span.SetAttributes(attribute.String("upload.status", string(res.Status)))
	if err != nil {
		observability.FailSpan(span, err)
	}
	return res, err
}

func (c *Checker) resolve(ctx context.Context, ref string) (Result, error) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok || id == "" {
		return errorResult(fmt.Errorf("%q: %w", ref, ErrMalformedReference))
	}

	switch kind + ":" {
	case RemotePrefix:
		return c.checkRemote(ctx, id)
	case JobPrefix:
		jobID, err := uuid.Parse(id)
		if err != nil {
			return errorResult(fmt.Errorf("%q: %w", ref, ErrMalformedReference))
		}
		return c.checkJob(ctx, jobID)
	default:
		return errorResult(fmt.Errorf("%q: %w", ref, ErrMalformedReference))
	}
}

func errorResult(err error) (Result, error) {
	return Result{Status: StatusError, Detail: err.Error()}, err
}

func (c *Checker) checkRemote(ctx context.Context, id string) (Result, error) {
	if !c.client.Configured() {
		return errorResult(ErrNotConfigured)
	}

	status, err := c.client.Status(ctx, id)
	if err != nil {
		if isTimeout(err) {
			c.log.Info("upload status timed out", "upload_id", id)
			return Result{Status: StatusPending, Detail: "status request timed out"}, nil
		}
		var se *StatusError
		if errors.As(err, &se) {
			switch {
			case se.StatusCode == http.StatusNotFound:
				return errorResult(fmt.Errorf("upload %s: %w", id, ErrReferenceNotFound))
			case se.StatusCode >= 500:
				c.log.Warn("upload endpoint unavailable", "upload_id", id, "status", se.StatusCode)
				return Result{Status: StatusPending, Detail: se.Error()}, nil
			}
		}
		return errorResult(fmt.Errorf("upload %s: %w", id, err))
	}

	switch status.Status {
	case "finished":
		return Result{Status: StatusComplete}, nil
	case "queued", "in_progress":
		return Result{Status: StatusPending, Detail: status.Status}, nil
	case "error":
		return Result{Status: StatusError, Detail: strings.Join(status.Errors, "; ")}, nil
	default:
		return Result{Status: StatusError, Detail: fmt.Sprintf("unknown remote status %q", status.Status)}, nil
	}
}

func (c *Checker) checkJob(ctx context.Context, id uuid.UUID) (Result, error) {
	if c.jobs == nil {
		return errorResult(ErrNotConfigured)
	}
	job, err := c.jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResult(fmt.Errorf("job %s: %w", id, ErrReferenceNotFound))
		}
		if isTimeout(err) {
			return Result{Status: StatusPending, Detail: "job lookup timed out"}, nil
		}
		return errorResult(err)
	}

	switch job.Status {
	case store.JobStatusCompleted:
		return Result{Status: StatusComplete}, nil
	case store.JobStatusFailed:
		detail := ""
		if job.FailureReason != nil {
			detail = *job.FailureReason
		}
		return Result{Status: StatusError, Detail: detail}, nil
	default:
		return Result{Status: StatusPending, Detail: string(job.Status)}, nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
