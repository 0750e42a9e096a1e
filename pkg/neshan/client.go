// Package neshan is a client for the Neshan maps platform.
// https://platform.neshan.org/api/getting-started
package neshan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/1995parham/neshan-go/internal/logging"
)

const (
	DefaultBaseURL   = "https://api.neshan.org"
	DefaultUserAgent = "neshan-go"
)

// Service is the set of Neshan operations the rest of the module builds on.
type Service interface {
	Route(ctx context.Context, vehicle VehicleType, origin, destination Point, opts RouteOptions) (*Routes, error)
	ReverseGeocode(ctx context.Context, point Point) (*PostalAddress, error)
	Search(ctx context.Context, term string, near Point) (*SearchResult, error)
	Geocode(ctx context.Context, address string) (*GeocodeResult, error)
	DistanceMatrix(ctx context.Context, vehicle VehicleType, origins, destinations []Point) (*DistanceMatrix, error)
}

// Config holds configuration for the Neshan client.
type Config struct {
	APIKey    string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// MaxRetries is the number of extra attempts for 429, 5xx and transport errors.
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// MinRequestInterval spaces consecutive requests from one client. Zero disables pacing.
	MinRequestInterval time.Duration

	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:           apiKey,
		BaseURL:          DefaultBaseURL,
		UserAgent:        DefaultUserAgent,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  8 * time.Second,
	}
}

// Client talks to the Neshan REST API. It is safe for concurrent use.
type Client struct {
	apiKey      string
	baseURL     string
	userAgent   string
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	minInterval time.Duration
	httpClient  *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

var _ Service = (*Client)(nil)

// NewClient creates a client with default config.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(DefaultConfig(apiKey))
}

// NewClientWithConfig creates a client with custom config.
// Empty strings and non-positive durations fall back to DefaultConfig.
// MaxRetries is used as given: 0 disables retries and negatives count as 0.
// RetryBackoffMax is raised to RetryBackoffBase when smaller.
func NewClientWithConfig(config Config) *Client {
	def := DefaultConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = def.RetryBackoffBase
	}
	if config.RetryBackoffMax < config.RetryBackoffBase {
		config.RetryBackoffMax = config.RetryBackoffBase
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		userAgent:   config.UserAgent,
		timeout:     config.Timeout,
		maxRetries:  config.MaxRetries,
		backoffBase: config.RetryBackoffBase,
		backoffMax:  config.RetryBackoffMax,
		minInterval: config.MinRequestInterval,
		httpClient:  httpClient,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// backoff returns the wait before the given retry attempt (1-based).
func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase
	for i := 1; i < attempt && d < c.backoffMax; i++ {
		d *= 2
	}
	if d > c.backoffMax {
		return c.backoffMax
	}
	return d
}

// pace blocks until MinRequestInterval has passed since the previous request.
func (c *Client) pace(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		if err := sleep(ctx, c.minInterval-elapsed); err != nil {
			return err
		}
	}
	c.lastRequest = time.Now()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// get performs a GET on path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	if c.apiKey == "" {
		logging.APIError("[%s] API key not configured", op)
		return ErrMissingAPIKey
	}

	// Apply the client timeout when the caller did not set a deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	startTime := time.Now()
	logging.APIDebug("[%s] GET %s", op, path)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			logging.APIWarn("[%s] retry %d/%d in %v: %v", op, attempt, c.maxRetries, wait, lastErr)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}

		if err := c.pace(ctx); err != nil {
			return err
		}

		status, body, err := c.do(ctx, endpoint)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if status < 200 || status >= 300 {
			apiErr := parseAPIError(status, body)
			if apiErr.Temporary() {
				lastErr = apiErr
				continue
			}
			logging.APIError("[%s] status %d: %s", op, status, apiErr.Message)
			return apiErr
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse %s response: %w", op, err)
		}

		logging.API("[%s] completed in %v", op, time.Since(startTime))
		return nil
	}

	logging.APIError("[%s] max retries exceeded after %v: %v", op, time.Since(startTime), lastErr)
	return fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// IsRetryExhausted reports whether err came from running out of retries.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrMaxRetries)
}
