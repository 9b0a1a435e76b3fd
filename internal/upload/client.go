// Package upload talks to the remote catalog ingestion endpoint.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured is returned when the endpoint URL or catalog id is missing.
	ErrNotConfigured = errors.New("upload: endpoint is not configured")

	// ErrMalformedReference is returned for references that cannot be parsed.
	ErrMalformedReference = errors.New("upload: malformed reference")

	// ErrReferenceNotFound is returned when neither side knows the reference.
	ErrReferenceNotFound = errors.New("upload: reference not found")
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Token     string
	CatalogID string
	Timeout   time.Duration
	// RateLimit caps requests per second; zero means unlimited.
	RateLimit  float64
	HTTPClient *http.Client
}

// Client uploads feed files and reads their ingestion status.
type Client struct {
	baseURL   string
	token     string
	catalogID string
	timeout   time.Duration
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		catalogID: cfg.CatalogID,
		timeout:   cfg.Timeout,
		http:      cfg.HTTPClient,
		limiter:   limiter,
	}
}

// Configured reports whether the client has an endpoint and catalog to talk to.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.catalogID != ""
}

// StatusError is a non-success HTTP response from the endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload endpoint error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type uploadResponse struct {
	ID string `json:"id"`
}

// Upload streams the file at path to the catalog and returns a remote reference.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open feed file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	endpoint := c.baseURL + "/catalogs/" + url.PathEscape(c.catalogID) + "/uploads"
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		pr.Close()
		return "", fmt.Errorf("upload failed: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("upload failed: endpoint returned no upload id")
	}
	return RemotePrefix + out.ID, nil
}

// RemoteStatus is the ingestion state reported by the endpoint.
type RemoteStatus struct {
	Status string   `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// Status fetches the ingestion state of upload id. It applies the client timeout.
func (c *Client) Status(ctx context.Context, id string) (*RemoteStatus, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/uploads/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out RemoteStatus
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
