package irt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	c, err := NewWithHTTPClient(cfg, logger.Nop(), srv.Client())
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	return c
}

func TestCalculateSendsMatrixAndBearer(t *testing.T) {
	var gotAuth string
	var gotBody Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calculate-irt" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"students":[{"name":"tr-1","theta_vi":0.3,"score0_300_vi":201},{"name":"tr-2","theta_vi":-0.1}],"items":[{"b":0.2}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "secret"})
	res, err := c.Calculate(context.Background(), Request{
		Responses: [][]int{{1, 0}, {0, 1}},
		Names:     []string{"tr-1", "tr-2"},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(gotBody.Responses) != 2 || gotBody.Names[1] != "tr-2" || gotBody.Responses[1][1] != 1 {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if len(res.Students) != 2 || res.Students[0].Name != "tr-1" {
		t.Fatalf("unexpected students: %+v", res.Students)
	}
	var obj map[string]any
	if err := json.Unmarshal(res.Students[0].Raw, &obj); err != nil || obj["score0_300_vi"] != float64(201) {
		t.Fatalf("raw student object not preserved: %s", res.Students[0].Raw)
	}
	if len(res.Items) == 0 {
		t.Fatalf("items should be passed through")
	}
}

func TestCalculateOmitsBearerWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("unexpected Authorization header %q", h)
		}
		_, _ = w.Write([]byte(`{"students":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	res, err := c.Calculate(context.Background(), Request{})
	if err != nil || len(res.Students) != 0 {
		t.Fatalf("Calculate: %+v err=%v", res, err)
	}
}

func TestCalculateMalformedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxRetries: 3})
	_, err := c.Calculate(context.Background(), Request{Responses: [][]int{{1}}, Names: []string{"a"}})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("malformed body should not be retried, calls=%d", calls)
	}
}

func TestCalculateRejectsNamelessStudent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"students":[{"theta_vi":1}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	if _, err := c.Calculate(context.Background(), Request{}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestCalculateRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"students":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxRetries: 2})
	if _, err := c.Calculate(context.Background(), Request{}); err != nil {
		t.Fatalf("Calculate after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCalculateDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad matrix", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxRetries: 3})
	_, err := c.Calculate(context.Background(), Request{})
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected HTTPError 422, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("4xx should not be retried, calls=%d", calls)
	}
	if c.BreakerState() != gobreaker.StateClosed {
		t.Fatalf("4xx should not trip the breaker")
	}
}

func TestCalculateTimesOutPerAttempt(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv, Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Calculate(context.Background(), Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	var calls int32
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if !healthy.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"students":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{BreakerThreshold: 2, BreakerCooldown: 50 * time.Millisecond})

	for i := 0; i < 2; i++ {
		if _, err := c.Calculate(context.Background(), Request{}); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	if c.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker should be open after threshold failures, got %s", c.BreakerState())
	}
	before := atomic.LoadInt32(&calls)
	if _, err := c.Calculate(context.Background(), Request{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Fatalf("open breaker must not reach the service")
	}

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)
	if _, err := c.Calculate(context.Background(), Request{}); err != nil {
		t.Fatalf("trial call after cooldown: %v", err)
	}
	if c.BreakerState() != gobreaker.StateClosed {
		t.Fatalf("successful trial call should close the breaker, got %s", c.BreakerState())
	}
}

func TestBreakerRecoversAfterNonCountingTrialCall(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			http.Error(w, http.StatusText(code), code)
			return
		}
		_, _ = w.Write([]byte(`{"students":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{BreakerThreshold: 1, BreakerCooldown: 50 * time.Millisecond})
	if _, err := c.Calculate(context.Background(), Request{}); err == nil {
		t.Fatalf("500 should fail")
	}
	if c.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker should be open, got %s", c.BreakerState())
	}

	time.Sleep(80 * time.Millisecond)
	status.Store(http.StatusBadRequest)
	_, err := c.Calculate(context.Background(), Request{})
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadRequest {
		t.Fatalf("trial call: expected HTTPError 400, got %v", err)
	}

	status.Store(http.StatusOK)
	for i := 0; i < 3; i++ {
		if _, err := c.Calculate(context.Background(), Request{}); err != nil {
			t.Fatalf("healthy call %d after a 400 trial call: %v", i, err)
		}
	}
	if c.BreakerState() != gobreaker.StateClosed {
		t.Fatalf("breaker should be closed, got %s", c.BreakerState())
	}
}

func TestBreakerSettlesCancelledTrialCall(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"students":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{BreakerThreshold: 1, BreakerCooldown: 50 * time.Millisecond})
	if _, err := c.Calculate(context.Background(), Request{}); err == nil {
		t.Fatalf("503 should fail")
	}
	time.Sleep(80 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Calculate(ctx, Request{}); err == nil {
		t.Fatalf("cancelled call should fail")
	}

	healthy.Store(true)
	if _, err := c.Calculate(context.Background(), Request{}); err != nil {
		t.Fatalf("call after cancelled trial call: %v", err)
	}
}

func TestCalculateRejectsMismatchedLabels(t *testing.T) {
	c, err := New(Config{BaseURL: "http://irt.invalid"}, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Calculate(context.Background(), Request{Responses: [][]int{{1}}}); err == nil {
		t.Fatalf("expected error for missing names")
	}
	if _, err := New(Config{}, logger.Nop()); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
