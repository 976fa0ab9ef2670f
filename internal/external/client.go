// Package external isolates the notification engine from mail vendors. Every
// provider returns *types.AppError values carrying upstream_* or email_* codes
// so the delivery channel can classify outcomes without knowing the vendor.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"avisos/internal/types"
)

// RetryPolicy configures in-call retries of the BaseClient. Mail providers use
// MaxRetries=0: a failed send is retried by the next scheduled run, not here.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// NoRetryPolicy performs a single attempt.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, MinWait: 250 * time.Millisecond, MaxWait: time.Second}
}

// DefaultRetryPolicy retries 429/5xx twice with jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker, optional retries
// and AppError mapping. HTTP providers embed it.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep between retries. Tests pass a no-op.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleepFn = fn }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) { c.breaker = cb }
}

// NewHTTPBreaker returns the breaker used by HTTP providers: it opens after
// five consecutive 429/5xx/transport failures and probes again after 30s.
func NewHTTPBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about upstream health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// NewBaseClient creates a BaseClient named after the upstream it talks to.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		breaker:     NewHTTPBreaker(breakerName),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do sends req through the breaker. 2xx-4xx responses other than 429 are
// returned to the caller, who must close the body. 429, 5xx and transport
// failures are retried per the policy and finally mapped to an AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if runID := types.GetRunID(req.Context()); runID != "" {
		req.Header.Set("X-Run-Id", runID)
	} else if reqID := types.GetRequestID(req.Context()); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Buffer the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
		_ = req.Body.Close()
	}

	var (
		lastResp *http.Response
		lastErr  error
	)
	attempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		last := attempt == attempts-1
		if resp != nil {
			if last {
				lastResp = resp
			} else {
				_ = resp.Body.Close()
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if req.Context().Err() != nil {
			break
		}
		if !last {
			c.sleepFn(c.computeBackoff(attempt, resp))
		}
	}

	if lastResp != nil {
		_ = lastResp.Body.Close()
	}
	return nil, c.mapError(req.Context(), lastResp, lastErr)
}

// computeBackoff honors Retry-After (seconds or HTTP date) and otherwise uses
// exponential backoff with jitter in [MinWait, min(MaxWait, MinWait*2^attempt)].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.retryPolicy.MaxWait)
			}
			if t, err := http.ParseTime(ra); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.retryPolicy.MinWait
				}
				return min(wait, c.retryPolicy.MaxWait)
			}
		}
	}

	lo := float64(c.retryPolicy.MinWait)
	hi := math.Min(lo*math.Pow(2, float64(attempt)), float64(c.retryPolicy.MaxWait))
	if hi <= lo {
		return c.retryPolicy.MinWait
	}
	return time.Duration(lo + rand.Float64()*(hi-lo))
}

// mapError turns the final failure into an AppError. Every code it produces is
// transient from the delivery channel's point of view.
func (c *BaseClient) mapError(ctx context.Context, resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open; upstream unavailable", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeUpstreamTimeout, "upstream request timed out", err)
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d", resp.StatusCode), err)
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}
