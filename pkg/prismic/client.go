// Package prismic provides the HTTP client for the headless CMS API with
// rate limiting, caching, retries and error classification.
package prismic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spacetraveling/blog/pkg/cache"
	"github.com/spacetraveling/blog/pkg/ratelimit"
)

// Prometheus metrics for CMS client operations.
var (
	cmsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cms_requests_total",
		Help: "Total CMS requests by endpoint and status",
	}, []string{"endpoint", "status"})

	cmsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cms_request_duration_seconds",
		Help:    "CMS request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	cmsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cms_errors_total",
		Help: "Total CMS errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Client is the CMS API client.
type Client struct {
	httpClient  *http.Client
	redis       *redis.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	endpoint    *url.URL
	logger      zerolog.Logger

	refMu        sync.Mutex
	masterRef    string
	refFetchedAt time.Time
}

// Config holds the client configuration.
type Config struct {
	// APIEndpoint is the CMS API root,
	// e.g. "https://spacetraveling.cdn.prismic.io/api/v2"
	APIEndpoint string

	// AccessToken for private repositories (optional)
	AccessToken string

	// Redis client for response caching and shared rate limit state.
	// Nil disables both.
	Redis *redis.Client

	// User-Agent header
	UserAgent string

	// Timeout per HTTP request
	Timeout time.Duration

	// Retry
	MaxRetries     int // attempts including the first one
	InitialBackoff time.Duration

	// RefTTL is how long the master ref is reused before asking the API again
	RefTTL time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiEndpoint string, redis *redis.Client, userAgent string) Config {
	return Config{
		APIEndpoint:    apiEndpoint,
		Redis:          redis,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		RefTTL:         30 * time.Second,
	}
}

// New creates a new CMS client.
func New(cfg Config) (*Client, error) {
	if cfg.APIEndpoint == "" {
		return nil, fmt.Errorf("api endpoint is required")
	}

	endpoint, err := url.Parse(strings.TrimRight(cfg.APIEndpoint, "/"))
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, fmt.Errorf("api endpoint must be an absolute http(s) url (got %q)", cfg.APIEndpoint)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "cms-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redis:    cfg.Redis,
		config:   cfg,
		endpoint: endpoint,
		logger:   logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
		c.cache = cache.NewManager(cfg.Redis)
	} else {
		logger.Info().Msg("No Redis configured - response cache and shared rate limit disabled")
	}

	return c, nil
}

// requestOptions tune a single call to do.
type requestOptions struct {
	// attempts caps the number of HTTP attempts; 0 uses the retry config.
	attempts int

	// serveFresh answers from a fresh cache entry without a network call.
	// When false a fresh entry is only used to revalidate via ETag.
	serveFresh bool
}

// Do performs an HTTP request with rate limiting, caching, and error handling.
// Fresh cached responses are returned without contacting the CMS.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, requestOptions{serveFresh: true})
}

func (c *Client) do(req *http.Request, opts requestOptions) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		cmsRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check Rate Limit
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("Rate limit check failed")
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Msg("Request blocked by rate limiter")
			cmsRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return nil, ErrRateLimited
		}
	}

	// Step 2: Check Cache
	cacheKey := cache.KeyFromURL(req.URL)

	var cachedEntry *cache.Entry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
		cachedEntry = entry
	}

	if cachedEntry != nil && opts.serveFresh {
		c.logger.Debug().
			Str("endpoint", endpoint).
			Dur("ttl", cachedEntry.TTL()).
			Dur("age", cachedEntry.Age()).
			Msg("Serving response from cache")
		cmsRequestsTotal.WithLabelValues(endpoint, "cache").Inc()
		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 3: Make Conditional Request if cache hit
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 4: Headers and credentials
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.AccessToken != "" {
		query := req.URL.Query()
		if query.Get("access_token") == "" {
			query.Set("access_token", c.config.AccessToken)
			req.URL.RawQuery = query.Encode()
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing CMS request")

	// Step 5: Execute HTTP Request with Retry Logic
	var resp *http.Response

	retryErr := retryWithBackoff(ctx, opts.attempts, c.retryConfig, func() (ErrorClass, error) {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)

		if reqErr != nil {
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errClass := c.classifyError(nil, reqErr)
			cmsErrorsTotal.WithLabelValues(string(errClass)).Inc()
			cmsRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return errClass, &APIError{ErrorClass: errClass, Message: "request failed", Err: reqErr}
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		if resp.StatusCode == http.StatusNotModified {
			return "", nil
		}

		if resp.StatusCode >= 400 {
			errClass := c.classifyError(resp, nil)
			cmsErrorsTotal.WithLabelValues(string(errClass)).Inc()
			cmsRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("CMS request error")

			if shouldRetry(errClass) {
				err := &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Message:    resp.Status,
				}
				resp.Body.Close()
				resp = nil
				return errClass, err
			}

			// Client errors are returned as responses; callers map the status.
			return "", nil
		}

		cmsRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return "", nil
	})

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	// Step 6: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		cmsRequestsTotal.WithLabelValues(endpoint, "304").Inc()
		cache.NotModifiedResponses.Inc()

		refreshed, err := cache.ResponseToEntry(resp)
		if err == nil && refreshed.TTL() > 0 {
			if err := c.cache.Touch(ctx, cacheKey, refreshed.Expires); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
			}
		}

		resp.Body.Close()
		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 7: Update Cache on success
	if resp.StatusCode == http.StatusOK && c.cache != nil {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("endpoint", endpoint).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return resp, nil
}

// retryConfig returns the retry settings for an error class, with the
// client's configured attempts and initial backoff applied.
func (c *Client) retryConfig(errorClass ErrorClass) RetryConfig {
	rc := RetryConfigForErrorClass(errorClass)
	if c.config.MaxRetries > 0 {
		rc.MaxAttempts = c.config.MaxRetries
	}
	if c.config.InitialBackoff > 0 {
		rc.InitialBackoff = c.config.InitialBackoff
		if rc.MaxBackoff < rc.InitialBackoff {
			rc.MaxBackoff = rc.InitialBackoff
		}
	}
	return rc
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Ping checks the Redis connection backing the cache.
// It succeeds trivially when caching is disabled.
func (c *Client) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases idle HTTP connections. The Redis client is owned by the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GetCache returns the cache manager, nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
