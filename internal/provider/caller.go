package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

var ErrCircuitOpen = errors.New("provider_circuit_open")

// Caller wraps an HTTP client with the per-provider safeguards every REST
// client in this codebase needs: an outbound throttle, a circuit breaker and
// retry with backoff on 429/5xx.
type Caller struct {
	name    string
	client  *http.Client
	breaker *Breaker
	limiter *rate.Limiter
	retry   RetryConfig
	log     *slog.Logger
}

// NewCaller builds a Caller for one provider. rps bounds the steady-state
// request rate against that provider's API.
func NewCaller(name string, client *http.Client, log *slog.Logger, rps float64, burst int) *Caller {
	if client == nil {
		client = NewHTTPClient()
	}
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Caller{
		name:    name,
		client:  client,
		breaker: NewBreaker(),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		retry:   DefaultRetryConfig(),
		log:     log,
	}
}

// Do executes a request with throttle, breaker and retries. build is called
// per attempt because request bodies cannot be replayed.
func (c *Caller) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := CalculateBackoff(c.retry, attempt-1, retryAfterFrom(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		if !c.breaker.Allow() {
			c.log.Warn("provider_circuit_open", "provider", c.name)
			return nil, ErrCircuitOpen
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.breaker.RecordFailure()
			lastErr = &statusError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp)}
			resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		return resp, nil
	}

	return nil, fmt.Errorf("%s request failed after retries: %w", c.name, lastErr)
}

// DoJSON executes the request and decodes a 2xx JSON body into out.
// Non-2xx responses come back as a statusError carrying the code.
func (c *Caller) DoJSON(ctx context.Context, build func(ctx context.Context) (*http.Request, error), out any) error {
	resp, err := c.Do(ctx, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s api status %d: %s", c.name, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s api decode: %w", c.name, err)
	}
	return nil
}

type statusError struct {
	status     int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func retryAfterFrom(err error) time.Duration {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryAfter
	}
	return 0
}
