package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/subgen/pkg/logging"
	"github.com/psantana5/subgen/pkg/metrics"
	"github.com/psantana5/subgen/pkg/models"
	"github.com/psantana5/subgen/pkg/ratelimit"
	"github.com/psantana5/subgen/pkg/tracing"
)

const (
	submitPath = "/generate-subtitles/"
	statusPath = "/job-status/"

	// maxErrorBody bounds how much of a failed response is kept in a StatusError
	maxErrorBody = 4096
)

// Options configures a Client
type Options struct {
	BaseURL string
	APIKey  string

	// Timeout applies to status queries only. Zero means no timeout.
	// Uploads and downloads are bounded by the caller's context.
	Timeout time.Duration

	// UploadLimit caps upload throughput in bytes per second. Zero disables it.
	UploadLimit int64

	TLSConfig *tls.Config
	Tracing   *tracing.Provider
	Logger    *logging.Logger
	Metrics   *metrics.Collector
}

// Client talks to the subtitle-generation service
type Client struct {
	baseURL    *url.URL
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	tracing    *tracing.Provider
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// NewClient creates a new service client
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", opts.BaseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.TLSConfig != nil {
		transport.TLSClientConfig = opts.TLSConfig
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Client{
		baseURL: base,
		apiKey:  opts.APIKey,
		timeout: opts.Timeout,
		httpClient: &http.Client{
			Transport: opts.Tracing.Transport(transport),
		},
		limiter: ratelimit.NewLimiter(opts.UploadLimit),
		tracing: opts.Tracing,
		logger:  logger.WithField("component", "api"),
		metrics: opts.Metrics,
	}, nil
}

// BaseURL returns the service root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Status queries the service once for the state of jobID
func (c *Client) Status(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrEmptyJobID
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := c.tracing.StartSpan(ctx, "api.Status")
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(statusPath+url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("failed to query job status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("job status", resp)
	}

	var status models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	if status.JobID == "" {
		status.JobID = jobID
	}
	if status.Completed() || status.Failed() {
		tracing.AddEvent(ctx, "job.terminal", attribute.String("job.status", string(status.Status)))
	}

	c.logger.Debug("Job status", logging.Fields{
		"job_id": jobID,
		"status": string(status.Status),
	})

	return &status, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func newStatusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
}
