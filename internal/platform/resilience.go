package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/3cpo-dev/fusebench/internal/telemetry"
)

// RetryConfig defines retry behavior for API calls
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []int // HTTP status codes that should be retried
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: []int{429, 500, 502, 503, 504},
	}
}

// RetryableHTTPClient wraps an HTTP client with retries and rate limiting.
// Only transport failures and the configured status codes are retried;
// API errors such as ResourceNotFound are returned on the first attempt.
type RetryableHTTPClient struct {
	client      *http.Client
	retryConfig RetryConfig
	limiter     *rate.Limiter
}

// NewRetryableHTTPClient creates a new HTTP client with retry logic
func NewRetryableHTTPClient(timeout time.Duration, requestsPerSecond float64, retry RetryConfig) *RetryableHTTPClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &RetryableHTTPClient{
		client:      &http.Client{Timeout: timeout},
		retryConfig: retry,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// Post sends body to url, rebuilding the request on every attempt so the
// payload is replayed intact.
func (c *RetryableHTTPClient) Post(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, v := range header {
			req.Header[k] = v
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.retryConfig.MaxRetries && ctx.Err() == nil {
				delay := c.calculateDelay(attempt)
				log.Warn().
					Err(err).
					Int("attempt", attempt+1).
					Int("max_retries", c.retryConfig.MaxRetries).
					Dur("delay", delay).
					Str("url", url).
					Msg("API request failed, retrying")
				telemetry.CounterGlobal("api_retries", 1, map[string]string{"reason": "transport"})
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if c.shouldRetry(resp.StatusCode) && attempt < c.retryConfig.MaxRetries {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("api status %d", resp.StatusCode)
			delay := c.calculateDelay(attempt)
			log.Warn().
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Int("max_retries", c.retryConfig.MaxRetries).
				Dur("delay", delay).
				Str("url", url).
				Msg("API request returned retryable error, retrying")
			telemetry.CounterGlobal("api_retries", 1, map[string]string{"reason": strconv.Itoa(resp.StatusCode)})
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// shouldRetry determines if a status code should trigger a retry
func (c *RetryableHTTPClient) shouldRetry(statusCode int) bool {
	for _, code := range c.retryConfig.RetryableErrors {
		if statusCode == code {
			return true
		}
	}
	return false
}

// calculateDelay calculates exponential backoff delay with jitter
func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	delay := float64(c.retryConfig.InitialDelay) * math.Pow(c.retryConfig.BackoffFactor, float64(attempt))

	// +/-25% jitter
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	if delay > float64(c.retryConfig.MaxDelay) {
		delay = float64(c.retryConfig.MaxDelay)
	}

	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
