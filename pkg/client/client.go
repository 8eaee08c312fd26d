// Package client talks to a running lightcurve server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/vjranagit/lightcurve/pkg/api"
	"github.com/vjranagit/lightcurve/pkg/types"
)

const (
	// Default retry configuration
	defaultRetryCount       = 3
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second
)

// APIError is returned when the server answers with a non-2xx status
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Option configures a Client
type Option func(*resty.Client)

// WithRetry overrides the retry policy
func WithRetry(count int, wait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(max(wait, defaultRetryMaxWaitTime))
	}
}

// Client is a typed wrapper over the HTTP API
type Client struct {
	http *resty.Client
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(defaultRetryWaitTime).
		SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)

	for _, opt := range opts {
		opt(c)
	}
	return &Client{http: c}
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.http.Close()
}

// Upload sends CSV text to be merged and published
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*api.UploadResponse, error) {
	// Buffer the body so a retried request can send it again.
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	var result api.UploadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/csv").
		SetQueryParam("name", name).
		SetBody(body).
		SetResult(&result).
		Post("/api/v1/upload")
	if err := check(resp, err, "upload"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Data returns the current table
func (c *Client) Data(ctx context.Context) (*api.DataResponse, error) {
	var result api.DataResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v1/data")
	if err := check(resp, err, "fetch data"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Reset discards edits and restores the last upload
func (c *Client) Reset(ctx context.Context) (uint64, error) {
	var result api.DataResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/api/v1/reset")
	if err := check(resp, err, "reset"); err != nil {
		return 0, err
	}
	return result.Version, nil
}

// Analysis returns statistics and derived errors for the current table
func (c *Client) Analysis(ctx context.Context) (*api.AnalysisResponse, error) {
	var result api.AnalysisResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v1/analysis")
	if err := check(resp, err, "fetch analysis"); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChartPNG returns the rendered chart
func (c *Client) ChartPNG(ctx context.Context, width, height int) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "image/png").
		SetQueryParams(map[string]string{
			"width":  strconv.Itoa(width),
			"height": strconv.Itoa(height),
		}).
		Get("/api/v1/chart.png")
	if err := check(resp, err, "fetch chart"); err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

// Datasets lists stored uploads, newest first
func (c *Client) Datasets(ctx context.Context) ([]types.DatasetInfo, error) {
	var result []types.DatasetInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v1/datasets")
	if err := check(resp, err, "list datasets"); err != nil {
		return nil, err
	}
	return result, nil
}

// LoadDataset publishes a stored upload as the current table
func (c *Client) LoadDataset(ctx context.Context, id string) (uint64, error) {
	var result api.DataResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&result).
		Post("/api/v1/datasets/{id}/load")
	if err := check(resp, err, "load dataset "+id); err != nil {
		return 0, err
	}
	return result.Version, nil
}

// Health returns the server status
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var result api.HealthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/health")
	if err := check(resp, err, "health"); err != nil {
		return nil, err
	}
	return &result, nil
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsSuccess() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(resp.Bytes(), &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	}
	return fmt.Errorf("%s: %w", op, apiErr)
}

// retryCondition retries network errors, 5xx, 408 and 429
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying request due to error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Debug("retrying request due to status code",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
