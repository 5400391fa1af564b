package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/metrics"
	"github.com/khanhnv2901/seca-trust/internal/orchestrator"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

type fakeRunner struct {
	mu       sync.Mutex
	st       state.State
	cfg      config.Config
	running  bool
	block    chan struct{}
	started  chan string
	startErr error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{st: state.Initial(), cfg: config.Default()}
}

func (f *fakeRunner) run(ctx context.Context, mode string) (state.State, error) {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return state.State{}, sharedErrors.ErrAlreadyRunning
	}
	if f.startErr != nil {
		f.mu.Unlock()
		return state.State{}, f.startErr
	}
	f.running = true
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- mode
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.st.CurrentStep = state.StepCompleted
	f.st.Progress = 100
	f.st.DeviceFingerprint.Fingerprint = "abc"
	return f.st.Clone(), nil
}

func (f *fakeRunner) Start(ctx context.Context) (state.State, error) { return f.run(ctx, "full") }
func (f *fakeRunner) StartQuick(ctx context.Context) (state.State, error) {
	return f.run(ctx, "quick")
}

func (f *fakeRunner) State() state.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.Clone()
}

func (f *fakeRunner) SecurityStatus() orchestrator.SecurityStatus {
	return orchestrator.StatusFrom(f.State())
}

func (f *fakeRunner) UpdateConfig(partial map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged, err := f.cfg.Merge(partial)
	if err != nil {
		return err
	}
	f.cfg = merged
	return nil
}

func (f *fakeRunner) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Runner == nil {
		cfg.Runner = newFakeRunner()
	}
	cfg.Logger = zaptest.NewLogger(t)
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(time.Second) })
	return s
}

func serve(s *Server, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestNewServer_RequiresRunner(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatal("expected error without a runner")
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"status": "ok"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content-type, got %s", got)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rr := httptest.NewRecorder()
	s.writeError(rr, req, http.StatusInternalServerError, errors.New("disk /var/lib/secret failed"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal server error") {
		t.Fatalf("expected generic message, got %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.writeError(rr, req, http.StatusBadRequest, errors.New("bad <input>"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bad input") {
		t.Fatalf("expected sanitized client message, got %s", rr.Body.String())
	}
}

func TestHandleState(t *testing.T) {
	s := newTestServer(t, Config{})

	rr := serve(s, http.MethodGet, "/api/v1/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["currentStep"] != "INITIALIZING" {
		t.Errorf("expected INITIALIZING, got %v", body["currentStep"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected request ID header")
	}

	if rr := serve(s, http.MethodPost, "/api/v1/state", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t, Config{})

	rr := serve(s, http.MethodGet, "/api/v1/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var status orchestrator.SecurityStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if status.Overall != orchestrator.OverallError {
		t.Errorf("expected error verdict for initial state, got %s", status.Overall)
	}
}

func TestHandleRun_Sync(t *testing.T) {
	s := newTestServer(t, Config{})

	rr := serve(s, http.MethodPost, "/api/v1/run?mode=quick", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp RunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Mode != "quick" || resp.Async {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.State == nil || resp.State.CurrentStep != state.StepCompleted {
		t.Errorf("expected completed state, got %+v", resp.State)
	}
	if resp.Status == nil || !resp.Status.DeviceFingerprint {
		t.Errorf("expected fingerprint signal, got %+v", resp.Status)
	}

	if rr := serve(s, http.MethodPost, "/api/v1/run?mode=turbo", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown mode, got %d", rr.Code)
	}
	if rr := serve(s, http.MethodGet, "/api/v1/run", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestHandleRun_SyncFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.startErr = &orchestrator.OrchestrationError{Err: context.Canceled}
	s := newTestServer(t, Config{Runner: runner})

	rr := serve(s, http.MethodPost, "/api/v1/run", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestHandleRun_AsyncAndConflict(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	runner.started = make(chan string, 1)
	s := newTestServer(t, Config{Runner: runner})

	rr := serve(s, http.MethodPost, "/api/v1/run?async=true", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if mode := <-runner.started; mode != "full" {
		t.Errorf("expected full run, got %s", mode)
	}

	if rr := serve(s, http.MethodPost, "/api/v1/run?async=true", ""); rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for second async run, got %d", rr.Code)
	}
	if rr := serve(s, http.MethodPost, "/api/v1/run", ""); rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for sync run during async run, got %d", rr.Code)
	}

	close(runner.block)
	deadline := time.Now().Add(2 * time.Second)
	for runner.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runner.State().CurrentStep != state.StepCompleted {
		t.Errorf("expected background run to complete")
	}
}

func TestHandleConfig(t *testing.T) {
	runner := newFakeRunner()
	s := newTestServer(t, Config{Runner: runner})

	rr := serve(s, http.MethodPatch, "/api/v1/config", `{"enableZKP": false, "delayMs": 100}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if runner.cfg.EnableZKP || runner.cfg.DelayMs != 100 {
		t.Errorf("config not merged: %+v", runner.cfg)
	}

	rr = serve(s, http.MethodPatch, "/api/v1/config", `{"timeoutMs": 10}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Invalid timeout configuration") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}

	if rr := serve(s, http.MethodPatch, "/api/v1/config", `not json`); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, Config{AuthToken: "s3cr3t"})

	if rr := serve(s, http.MethodGet, "/api/v1/state", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.Header.Set("X-Auth-Token", "s3cr3t")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}

	if rr := serve(s, http.MethodGet, "/live", ""); rr.Code != http.StatusOK {
		t.Errorf("expected health endpoints to skip auth, got %d", rr.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	health := healthcheck.NewHandler()
	health.AddReadinessCheck("engine", func() error { return errors.New("not ready") })
	s := newTestServer(t, Config{Health: health})

	if rr := serve(s, http.MethodGet, "/live", ""); rr.Code != http.StatusOK {
		t.Errorf("expected live 200, got %d", rr.Code)
	}
	if rr := serve(s, http.MethodGet, "/ready", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected ready 503, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.ObserveProbe("tls", metrics.OutcomeSuccess, time.Millisecond)
	s := newTestServer(t, Config{Metrics: rec.Handler()})

	rr := serve(s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `seca_trust_probe_executions_total{outcome="success",probe="tls"} 1`) {
		t.Errorf("expected probe counter in exposition")
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RateLimit: 1, RateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		s.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected [200 200 429], got %v", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for second client, got %d", rr.Code)
	}
}

func TestClientAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	if got := clientAddress(req); got != "192.168.1.5" {
		t.Errorf("expected remote address without port, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientAddress(req); got != "203.0.113.7" {
		t.Errorf("expected first forwarded hop, got %s", got)
	}
}

func TestRateLimiterMap_Sweep(t *testing.T) {
	m := newRateLimiterMap()
	defer m.stop()

	m.getLimiter("a", 1, 1)
	m.getLimiter("b", 1, 1)
	if entry, ok := m.limiters.Get("a"); ok {
		entry.lastSeen = time.Now().Add(-2 * limiterIdle)
	}

	m.sweep(time.Now())
	if m.limiters.Has("a") {
		t.Error("expected idle limiter to be evicted")
	}
	if !m.limiters.Has("b") {
		t.Error("expected active limiter to be kept")
	}
	m.stop()
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, Config{CORSOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/state", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("expected origin to be allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("expected no CORS header for unknown origin")
	}
}
