// Package catalog is a client for a RAWG-compatible game catalog API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public RAWG API root.
	DefaultBaseURL = "https://api.rawg.io/api"

	defaultTimeout    = 30 * time.Second
	defaultRPS        = 5.0
	defaultBurst      = 10
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
	maxErrorBodyBytes = 512

	queryKey = "key"
)

var (
	errMissingAPIKey = errors.New("catalog: api key required")
	errTransport     = errors.New("transport failure")
)

// Config configures the catalog client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Cache      *DiskCache
	Policy     *ContentPolicy
	MaxRetries int
	RetryDelay time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Client is a rate-limited, retrying, disk-cached catalog client.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	cache      *DiskCache
	policy     ContentPolicy
	maxRetries int
	retryDelay time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}
	rawBase := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawBase == "" {
		rawBase = DefaultBaseURL
	}
	baseURL, err := url.Parse(rawBase)
	if err != nil {
		return nil, fmt.Errorf("catalog: invalid base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("catalog: base url %q must be absolute", rawBase)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst)
	}
	policy := DefaultContentPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		http:       httpClient,
		limiter:    limiter,
		cache:      cfg.Cache,
		policy:     policy,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		clock:      clock,
		logger:     logger,
	}, nil
}

// getJSON fetches path and decodes the response into target.
func (c *Client) getJSON(ctx context.Context, op string, gameID int64, requestPath string, query url.Values, target any) error {
	body, err := c.fetch(ctx, requestPath, query)
	if err != nil {
		return wrapError(op, gameID, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return wrapError(op, gameID, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// fetch returns the response body for path, serving fresh entries from the disk cache.
func (c *Client) fetch(ctx context.Context, requestPath string, query url.Values) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	key := cacheKey(requestPath, query.Encode())
	if body, ok := c.cache.Get(key); ok {
		c.logger.Debug("catalog cache hit", zap.String("path", requestPath))
		return body, nil
	}

	var body []byte
	err := backoff.Retry(func() error {
		var attemptErr error
		body, attemptErr = c.doRequest(ctx, requestPath, query)
		if attemptErr == nil {
			return nil
		}
		if !retryable(ctx, attemptErr) {
			return backoff.Permanent(attemptErr)
		}
		c.logger.Debug("retrying catalog request",
			zap.String("path", requestPath),
			zap.Error(attemptErr))
		return attemptErr
	}, c.backOff(ctx))
	if err != nil {
		return nil, err
	}

	if err := c.cache.Put(key, body); err != nil {
		c.logger.Warn("catalog cache write failed",
			zap.String("path", requestPath),
			zap.Error(err))
	}
	return body, nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = c.retryDelay
	exponential.MaxInterval = maxRetryDelay
	exponential.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(c.maxRetries)), ctx)
}

// doRequest executes one rate-limited GET request.
func (c *Client) doRequest(ctx context.Context, requestPath string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	withKey := url.Values{}
	for name, values := range query {
		withKey[name] = append([]string(nil), values...)
	}
	withKey.Set(queryKey, c.apiKey)

	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + requestPath
	target.RawQuery = withKey.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "GameShelf/1.0")

	c.logger.Debug("catalog request", zap.String("path", requestPath))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w: %w", errTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", errTransport, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusBadRequest:
		return nil, ErrBadRequest
	default:
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
		}
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrServer) || errors.Is(err, ErrRateLimited) || errors.Is(err, errTransport)
}
