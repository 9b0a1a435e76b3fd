// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ProductFilter restricts a catalog feed.
type ProductFilter struct {
	IncludeHidden bool     `json:"include_hidden,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// CreateJobRequest is the request body for POST /jobs. Exactly the fields of
// the selected feed type are read.
type CreateJobRequest struct {
	FeedType   string         `json:"feed_type"`
	Filter     *ProductFilter `json:"filter,omitempty"`
	ProductIDs []string       `json:"product_ids,omitempty"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID            string          `json:"id"`
	FeedType      string          `json:"feed_type"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
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

// ListJobsResponse is the response body for GET /jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// QueueResponse is the response body for GET /queue. Anonymous callers always
// see false without the store being consulted.
type QueueResponse struct {
	Scope        string `json:"scope"`
	QueueEmpty   bool   `json:"queue_empty"`
	Processing   bool   `json:"processing"`
	ShortCircuit bool   `json:"short_circuit,omitempty"`
}

// TickResponse is the response body for POST /feeds/{type}/tick.
type TickResponse struct {
	FeedType string       `json:"feed_type"`
	State    string       `json:"state"`
	Reason   string       `json:"reason,omitempty"`
	Job      *JobResponse `json:"job,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// UploadStatusResponse is the response body for GET /uploads/{ref}.
type UploadStatusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}
