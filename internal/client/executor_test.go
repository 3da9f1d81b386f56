package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type scriptedResponse struct {
	status int
	body   string
	err    error
}

// scriptedDoer replays a fixed sequence of responses, repeating the last one
// if called more often.
type scriptedDoer struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
	auths     []string
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auths = append(d.auths, req.Header.Get("Authorization"))
	i := d.calls
	d.calls++
	if i >= len(d.responses) {
		i = len(d.responses) - 1
	}
	r := d.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Header:     http.Header{},
	}, nil
}

func (d *scriptedDoer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// recordSleep returns a SleepFunc that records requested delays without waiting.
func recordSleep(delays *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func newTestExecutor(d Doer, r *RefreshCoordinator, delays *[]time.Duration) *Executor {
	e := NewExecutor(d, r, testLogger()).
		WithTiming(time.Second, 100*time.Millisecond, 800*time.Millisecond)
	if delays != nil {
		e.WithSleep(recordSleep(delays))
	}
	return e
}

func TestClientErrorNotRetried(t *testing.T) {
	d := &scriptedDoer{responses: []scriptedResponse{{status: 400, body: "bad params"}}}
	e := newTestExecutor(d, nil, nil)

	_, err := e.Execute(context.Background(), Options{Method: "GET", URL: "http://backend/x"}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("kind = %v, want validation", KindOf(err))
	}
	if d.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not be retried)", d.callCount())
	}
	if !strings.Contains(err.Error(), "bad params") {
		t.Errorf("error %q should carry the response detail", err)
	}
}

func TestTransientRetriedWithBackoff(t *testing.T) {
	d := &scriptedDoer{responses: []scriptedResponse{
		{status: 503},
		{status: 502},
		{status: 200, body: `{"ok":true}`},
	}}
	var delays []time.Duration
	e := newTestExecutor(d, nil, &delays)

	body, err := e.Execute(context.Background(), Options{Method: "GET", URL: "http://backend/x"}, 5)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
	if d.callCount() != 3 {
		t.Errorf("calls = %d, want 3", d.callCount())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	d := &scriptedDoer{responses: []scriptedResponse{{status: 500}}}
	var delays []time.Duration
	e := newTestExecutor(d, nil, &delays)

	_, err := e.Execute(context.Background(), Options{Method: "GET", URL: "http://backend/x"}, 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindTransient {
		t.Errorf("kind = %v, want transient", KindOf(err))
	}
	if d.callCount() != 3 {
		t.Errorf("calls = %d, want 3", d.callCount())
	}
}

func TestConnectionFailureGetsLegibleMessage(t *testing.T) {
	d := &scriptedDoer{responses: []scriptedResponse{
		{err: errors.New("dial tcp 127.0.0.1:8188: connect: connection refused")},
	}}
	var delays []time.Duration
	e := newTestExecutor(d, nil, &delays)

	_, err := e.Execute(context.Background(), Options{Method: "GET", URL: "http://backend/x"}, 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "connection failed") {
		t.Errorf("error %q should carry a user-legible message", err)
	}
}

func TestBackoffGrowth(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 800 * time.Millisecond

	var prev time.Duration
	for retry := 1; retry <= 10; retry++ {
		d := Backoff(retry, base, cap)
		if d < prev {
			t.Errorf("Backoff(%d) = %v, decreased from %v", retry, d, prev)
		}
		if d > cap {
			t.Errorf("Backoff(%d) = %v exceeds cap %v", retry, d, cap)
		}
		prev = d
	}
	if got := Backoff(1, base, cap); got != base {
		t.Errorf("Backoff(1) = %v, want %v", got, base)
	}
	if got := Backoff(2, base, cap); got != 2*base {
		t.Errorf("Backoff(2) = %v, want %v", got, 2*base)
	}
	if got := Backoff(10, base, cap); got != cap {
		t.Errorf("Backoff(10) = %v, want cap %v", got, cap)
	}
}

func TestCancellationPropagatedAsIs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &scriptedDoer{responses: []scriptedResponse{
		{err: context.Canceled},
	}}
	e := newTestExecutor(d, nil, nil)
	cancel()

	_, err := e.Execute(ctx, Options{Method: "GET", URL: "http://backend/x"}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsCanceled(err) {
		t.Errorf("kind = %v, want canceled", KindOf(err))
	}
	if d.callCount() > 1 {
		t.Errorf("calls = %d, cancellation must not be retried", d.callCount())
	}
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	d := &scriptedDoer{responses: []scriptedResponse{
		{status: 401},
		{status: 200, body: `{"jobs":[]}`},
	}}
	refreshCalls := 0
	coord := NewRefreshCoordinator("stale", func(context.Context) (string, error) {
		refreshCalls++
		return "fresh", nil
	}, testLogger())
	e := newTestExecutor(d, coord, nil)

	body, err := e.Execute(context.Background(), Options{Method: "GET", URL: "http://backend/jobs", Authenticated: true}, 3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(body) != `{"jobs":[]}` {
		t.Errorf("body = %q", body)
	}
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}
	if d.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (original + one retry)", d.callCount())
	}
	if d.auths[0] != "Bearer stale" || d.auths[1] != "Bearer fresh" {
		t.Errorf("auth headers = %v, want stale then fresh", d.auths)
	}
}

func TestFailedRefreshIsTerminal(t *testing.T) {
	d := &scriptedDoer{responses: []scriptedResponse{{status: 401}}}
	coord := NewRefreshCoordinator("stale", func(context.Context) (string, error) {
		return "", errors.New("refresh endpoint down")
	}, testLogger())
	e := newTestExecutor(d, coord, nil)

	_, err := e.Execute(context.Background(), Options{Method: "GET", URL: "http://backend/jobs", Authenticated: true}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindAuthExpired {
		t.Errorf("kind = %v, want auth_expired", KindOf(err))
	}
	if !strings.Contains(err.Error(), "session expired") {
		t.Errorf("error %q should tell the user the session expired", err)
	}
	if d.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (no retry without a fresh credential)", d.callCount())
	}
}

func TestStillUnauthorizedAfterRefreshIsTerminal(t *testing.T) {
	d := &scriptedDoer{responses: []scriptedResponse{{status: 401}, {status: 401}}}
	coord := NewRefreshCoordinator("stale", func(context.Context) (string, error) {
		return "fresh", nil
	}, testLogger())
	e := newTestExecutor(d, coord, nil)

	_, err := e.Execute(context.Background(), Options{Method: "GET", URL: "http://backend/jobs", Authenticated: true}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindAuthExpired {
		t.Errorf("kind = %v, want auth_expired", KindOf(err))
	}
	if d.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (exactly one retry with the new credential)", d.callCount())
	}
}
