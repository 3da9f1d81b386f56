package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Default executor tuning. Attempt timeouts are deliberately short: the
// engine's robustness comes from retrying, not from waiting.
const (
	DefaultAttemptTimeout = 15 * time.Second
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffCap     = 8 * time.Second
	DefaultMaxAttempts    = 3

	maxResponseBody = 8 << 20 // 8 MB
)

// Doer issues a single HTTP request. *http.Client satisfies it; tests supply
// a fake transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options describes one logical request handed to the executor.
type Options struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header

	// Authenticated requests carry the coordinator's current bearer token and
	// participate in the 401 refresh-and-retry protocol.
	Authenticated bool
}

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case. Injected so tests run without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor issues HTTP calls with a per-attempt timeout, capped exponential
// backoff on transient failures, and single-flight credential refresh on 401.
type Executor struct {
	client         Doer
	refresher      *RefreshCoordinator // nil disables the 401 protocol
	attemptTimeout time.Duration
	backoffBase    time.Duration
	backoffCap     time.Duration
	sleep          SleepFunc
	logger         *slog.Logger
}

// NewExecutor creates an executor with default tuning.
func NewExecutor(client Doer, refresher *RefreshCoordinator, logger *slog.Logger) *Executor {
	return &Executor{
		client:         client,
		refresher:      refresher,
		attemptTimeout: DefaultAttemptTimeout,
		backoffBase:    DefaultBackoffBase,
		backoffCap:     DefaultBackoffCap,
		sleep:          ContextSleep,
		logger:         logger,
	}
}

// WithTiming overrides the attempt timeout and backoff schedule.
func (e *Executor) WithTiming(attemptTimeout, backoffBase, backoffCap time.Duration) *Executor {
	e.attemptTimeout = attemptTimeout
	e.backoffBase = backoffBase
	e.backoffCap = backoffCap
	return e
}

// WithSleep overrides the delay primitive.
func (e *Executor) WithSleep(sleep SleepFunc) *Executor {
	e.sleep = sleep
	return e
}

// Backoff returns the delay before the given retry (1-based), growing
// exponentially from base and bounded by limit.
func Backoff(retry int, base, limit time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Execute issues the request, retrying transient failures up to maxAttempts
// total attempts. It returns the raw response body on success. Validation
// errors and cancellation are surfaced immediately; a 401 triggers exactly one
// deduplicated credential refresh followed by at most one retry.
func (e *Executor) Execute(ctx context.Context, opts Options, maxAttempts int) ([]byte, error) {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	token := ""
	if opts.Authenticated && e.refresher != nil {
		token = e.refresher.Token()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt-1, e.backoffBase, e.backoffCap)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, &Error{Kind: KindCanceled, Message: "request canceled during backoff", Err: err}
			}
		}

		body, err := e.attempt(ctx, opts, token)
		if err == nil {
			requestAttempts.WithLabelValues("success").Inc()
			return body, nil
		}

		switch KindOf(err) {
		case KindTransient:
			requestAttempts.WithLabelValues("transient").Inc()
			e.logger.Debug("transient request failure",
				"url", opts.URL,
				"attempt", attempt,
				"error", err,
			)
			lastErr = err
		case KindAuthExpired:
			if !opts.Authenticated || e.refresher == nil {
				return nil, err
			}
			return e.retryWithFreshCredential(ctx, opts)
		default:
			return nil, err
		}
	}

	return nil, lastErr
}

// retryWithFreshCredential handles the 401 path: one deduplicated refresh,
// then exactly one retry of the original request with the new credential.
func (e *Executor) retryWithFreshCredential(ctx context.Context, opts Options) ([]byte, error) {
	token := e.refresher.Refresh(ctx)
	if token == "" {
		return nil, &Error{
			Kind:    KindAuthExpired,
			Status:  http.StatusUnauthorized,
			Message: "session expired - please sign in again",
		}
	}

	body, err := e.attempt(ctx, opts, token)
	if err == nil {
		requestAttempts.WithLabelValues("success").Inc()
		return body, nil
	}
	if KindOf(err) == KindAuthExpired {
		return nil, &Error{
			Kind:    KindAuthExpired,
			Status:  http.StatusUnauthorized,
			Message: "session expired - please sign in again",
			Err:     err,
		}
	}
	return nil, err
}

// attempt issues a single HTTP call under the per-attempt timeout and
// classifies the outcome.
func (e *Executor) attempt(ctx context.Context, opts Options, token string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, opts.Method, opts.URL, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("invalid request for %s", opts.URL), Err: err}
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// Caller cancellation wins over any transport-level classification.
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCanceled, Message: "request canceled", Err: ctx.Err()}
		}
		// The per-attempt timeout expired but the caller is still live; the
		// next attempt may well succeed.
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTransient, Message: "request timed out", Err: err}
		}
		return nil, &Error{Kind: KindTransient, Message: legibleMessage(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCanceled, Message: "request canceled", Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindTransient, Message: "failed to read response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthExpired, Status: resp.StatusCode, Message: "credential rejected"}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &Error{
			Kind:    KindValidation,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("request rejected (%d): %s", resp.StatusCode, trimBody(body)),
		}
	default:
		return nil, &Error{
			Kind:    KindTransient,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("server error (%d)", resp.StatusCode),
		}
	}
}

// trimBody truncates an error response body for inclusion in a message.
func trimBody(b []byte) string {
	const max = 200
	s := string(bytes.TrimSpace(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
