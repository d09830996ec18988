package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

const (
	// Connection pool settings
	maxIdleConns        = 10
	maxConnsPerHost     = 5
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second

	// Retry settings
	maxRetries    = 5
	baseBackoff   = 1 * time.Second
	maxBackoff    = 60 * time.Second
	backoffFactor = 2.0

	maxBodyBytes = 16 << 20
)

// StatusError is a non-200 response from a schedule source.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status: %d", e.Code) }

// Retryable reports whether a retry may succeed: server errors and
// throttling, not client errors.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken authenticates requests to the schedule source.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithBackoff overrides the first retry delay. Tests use it to keep
// retries fast.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

// Client fetches schedules over HTTP.
type Client struct {
	httpClient *http.Client
	token      string
	backoff    time.Duration
}

// NewClient creates a schedule client with connection pooling.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		backoff: baseBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads and parses one schedule.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]models.FlightRecord, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %v", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return Parse(body, DetectFormat(u.Path, resp.Header.Get("Content-Type")))
}

// FetchWithRetry fetches with exponential backoff. Client errors and
// malformed schedules are not retried.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL string) ([]models.FlightRecord, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		flights, err := c.Fetch(ctx, rawURL)
		if err == nil {
			return flights, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// Transport failures are retried; parse failures are not.
	var ue *url.Error
	return errors.As(err, &ue)
}
