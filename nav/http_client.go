package nav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultFetchTimeout bounds a single building download
	DefaultFetchTimeout = 30 * time.Second
	// DefaultFetchAttempts is how often a transient failure is tried
	DefaultFetchAttempts = 3

	defaultRetryDelay = 500 * time.Millisecond
	maxBuildingBytes  = 50 << 20
)

// BuildingClient downloads building documents from a map backend
type BuildingClient struct {
	url        string
	http       *http.Client
	attempts   int
	retryDelay time.Duration
	logger     *zap.Logger
}

// ClientOption configures a BuildingClient
type ClientOption func(*BuildingClient)

// WithAttempts sets how many times a transient failure is tried
func WithAttempts(n int) ClientOption {
	return func(c *BuildingClient) { c.attempts = n }
}

// WithRetryDelay sets the wait before the first retry. It doubles on every
// further retry.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *BuildingClient) { c.retryDelay = d }
}

// WithHTTPClient replaces the default client (and its timeout)
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *BuildingClient) { c.http = hc }
}

// WithClientLogger sets the logger used for retries
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *BuildingClient) { c.logger = l }
}

// NewBuildingClient creates a client for the document at url
func NewBuildingClient(url string, opts ...ClientOption) *BuildingClient {
	c := &BuildingClient{
		url:        url,
		attempts:   DefaultFetchAttempts,
		retryDelay: defaultRetryDelay,
		logger:     zap.L().Named("fetch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultFetchTimeout}
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c
}

// permanentError marks a failure that another attempt cannot fix
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Fetch downloads and parses the building. Network errors, 5xx and 429 are
// retried; other statuses and unparsable documents fail at once.
func (c *BuildingClient) Fetch(ctx context.Context) (*Building, error) {
	if c.url == "" {
		return nil, errors.New("fetch building: URL is empty")
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		b, err := c.fetchOnce(ctx)
		if err == nil {
			return b, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return nil, fmt.Errorf("fetch building: %w", perm.err)
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}

		c.logger.Warn("building fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if !sleepCtx(ctx, delay) {
			return nil, fmt.Errorf("fetch building: %w", ctx.Err())
		}
		delay *= 2
	}
	return nil, fmt.Errorf("fetch building: all %d attempts failed: %w", c.attempts, lastErr)
}

func (c *BuildingClient) fetchOnce(ctx context.Context) (*Building, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, permanentError{fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, permanentError{ctx.Err()}
		}
		return nil, fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("GET %s: status %d", c.url, resp.StatusCode)
	default:
		return nil, permanentError{fmt.Errorf("GET %s: status %d", c.url, resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBuildingBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.url, err)
	}
	b, err := ParseBuildingJSON(body)
	if err != nil {
		return nil, permanentError{err}
	}
	return b, nil
}

// FetchBuildingFromURL fetches url with the default client settings
func FetchBuildingFromURL(ctx context.Context, url string, opts ...ClientOption) (*Building, error) {
	return NewBuildingClient(url, opts...).Fetch(ctx)
}
