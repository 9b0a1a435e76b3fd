package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"feedplane/pkg/api"
)

// FeedClient handles API calls to the feedplane admin API.
type FeedClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewFeedClient creates a new client with the given base URL and token.
func NewFeedClient(baseURL, token string) *FeedClient {
	return &FeedClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			// Ticks run the feed inside the request.
			Timeout: 10 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// ListJobsOptions filters GET /jobs.
type ListJobsOptions struct {
	Statuses []string
	FeedType string
	Limit    int
}

// CreateJob sends POST /jobs.
func (c *FeedClient) CreateJob(req api.CreateJobRequest) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodPost, "/jobs", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *FeedClient) GetJob(id string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /jobs, newest first.
func (c *FeedClient) ListJobs(opts ListJobsOptions) ([]api.JobResponse, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.FeedType != "" {
		q.Set("feed_type", opts.FeedType)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// DeleteJob sends DELETE /jobs/{id}.
func (c *FeedClient) DeleteJob(id string) error {
	return c.do(http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil, http.StatusNoContent)
}

// Queue sends GET /queue.
func (c *FeedClient) Queue() (*api.QueueResponse, error) {
	var result api.QueueResponse
	if err := c.do(http.MethodGet, "/queue", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Tick sends POST /feeds/{type}/tick.
func (c *FeedClient) Tick(feedType string, force bool) (*api.TickResponse, error) {
	path := fmt.Sprintf("/feeds/%s/tick?force=%t", url.PathEscape(feedType), force)
	var result api.TickResponse
	if err := c.do(http.MethodPost, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadStatus sends GET /uploads/{ref}.
func (c *FeedClient) UploadStatus(ref string) (*api.UploadStatusResponse, error) {
	var result api.UploadStatusResponse
	if err := c.do(http.MethodGet, "/uploads/"+url.PathEscape(ref), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *FeedClient) do(method, path string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the JSON error field over the raw body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
