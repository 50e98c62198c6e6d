// Package dispatch implements the Request Dispatcher Adapter: it turns a
// resolved RequestStep into an HTTP call, honouring timeout and retry
// policy. The retry/backoff shape is grounded directly on the teacher's
// internal/engine/resilience.go (RetryConfig, ExponentialBackoffStrategy,
// Retrier.Execute's attempt-loop/context-cancellation/jitter pattern),
// adapted from the teacher's string-keyed RetryableErrors classification
// to SPEC_FULL.md §4.5's "retryOn" HTTP-status-code list plus the "0"
// network-error convention.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/scenerr"
)

// Request is a fully resolved HTTP call, ready to send: every ${...}
// template in the originating RequestStep has already been substituted.
type Request struct {
	StepID  string
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration
	Retry   *ast.RetryPolicy
}

// Result is what the scheduler records into execcontext.RequestRecord.
type Result struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Data       any
	DurationMs int64
	Attempts   int
}

// Dispatcher sends a resolved Request and returns its Result. The
// production implementation is httpDispatcher; tests substitute a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Result, error)
}

const (
	defaultTimeout      = 30 * time.Second
	defaultInitialDelay = 200 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
	backoffFactor       = 2.0
)

// httpDispatcher is the default net/http-backed Dispatcher.
type httpDispatcher struct {
	client *http.Client
}

// New builds the default Dispatcher. client may be nil, in which case a
// dedicated http.Client is used per request with the step's timeout.
func New(client *http.Client) Dispatcher {
	return &httpDispatcher{client: client}
}

func (d *httpDispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	retrier := newRetrier(req.Retry)
	var result Result
	attempt := 0

	err := retrier.execute(ctx, func() error {
		attempt++
		start := time.Now()
		res, status, headers, body, sendErr := d.send(ctx, req)
		result.DurationMs = time.Since(start).Milliseconds()
		result.Attempts = attempt

		if sendErr != nil {
			if retrier.retriesNetworkErrors() {
				return networkError{sendErr}
			}
			return scenerr.DispatchErr(req.StepID, sendErr)
		}

		result.Status = status
		result.StatusText = res
		result.Headers = headers
		result.Data = body

		if retrier.retriesStatus(status) {
			return retryableStatus{status}
		}
		return nil
	})

	if err != nil {
		var rs retryableStatus
		if asRetryableStatus(err, &rs) {
			return result, scenerr.HTTPStatusErr(req.StepID, rs.status, fmt.Sprintf("request failed after %d attempt(s) with status %d", attempt, rs.status))
		}
		var ne networkError
		if asNetworkError(err, &ne) {
			return result, scenerr.DispatchErr(req.StepID, ne.err)
		}
		return result, err
	}

	return result, nil
}

func (d *httpDispatcher) send(ctx context.Context, req Request) (statusText string, status int, headers map[string]string, body any, err error) {
	var bodyReader io.Reader
	if req.Body != nil {
		encoded, marshalErr := json.Marshal(req.Body)
		if marshalErr != nil {
			return "", 0, nil, nil, marshalErr
		}
		bodyReader = bytes.NewReader(encoded)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return "", 0, nil, nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := d.client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", 0, nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, nil, nil, err
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	var decoded any
	if len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
			decoded = string(raw)
		}
	}

	return resp.Status, resp.StatusCode, respHeaders, decoded, nil
}

// retryableStatus and networkError are sentinel errors the retrier's
// ShouldRetry-equivalent inspects; they never escape Dispatch itself.
type retryableStatus struct{ status int }

func (e retryableStatus) Error() string { return fmt.Sprintf("retryable status %d", e.status) }

type networkError struct{ err error }

func (e networkError) Error() string { return e.err.Error() }
func (e networkError) Unwrap() error { return e.err }

func asRetryableStatus(err error, target *retryableStatus) bool {
	rs, ok := err.(retryableStatus)
	if ok {
		*target = rs
	}
	return ok
}

func asNetworkError(err error, target *networkError) bool {
	ne, ok := err.(networkError)
	if ok {
		*target = ne
	}
	return ok
}

// retrier is the resolved, per-request twin of the teacher's Retrier,
// operating on attempt count and HTTP status/network classification
// rather than a string error-class list.
type retrier struct {
	policy       *ast.RetryPolicy
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
}

func newRetrier(policy *ast.RetryPolicy) *retrier {
	r := &retrier{policy: policy, initialDelay: defaultInitialDelay, maxDelay: defaultMaxDelay, maxAttempts: 1}
	if policy != nil && policy.MaxRetries > 0 {
		r.maxAttempts = policy.MaxRetries + 1
	}
	if policy != nil && policy.RetryDelayMs > 0 {
		r.initialDelay = time.Duration(policy.RetryDelayMs) * time.Millisecond
	}
	return r
}

func (r *retrier) retriesNetworkErrors() bool { return r.policy.RetriesNetworkErrors() }
func (r *retrier) retriesStatus(status int) bool {
	return r.policy.RetriesStatus(status)
}

func (r *retrier) nextDelay(attempt int) time.Duration {
	delay := time.Duration(float64(r.initialDelay) * math.Pow(backoffFactor, float64(attempt-1)))
	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.1)
	return delay + jitter
}

// execute runs operation up to maxAttempts times, retrying only when
// operation returns a retryableStatus or networkError, grounded on the
// teacher's Retrier.Execute attempt loop.
func (r *retrier) execute(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == r.maxAttempts {
			break
		}

		delay := r.nextDelay(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Int("maxAttempts", r.maxAttempts).Dur("delay", delay).Msg("dispatch: request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	switch err.(type) {
	case retryableStatus, networkError:
		return true
	default:
		return false
	}
}
