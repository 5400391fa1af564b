package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/seca-trust/internal/api/middleware"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/orchestrator"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

const maxBodyBytes = 1 << 20

// Runner is the part of the orchestrator the server drives.
type Runner interface {
	Start(ctx context.Context) (state.State, error)
	StartQuick(ctx context.Context) (state.State, error)
	State() state.State
	SecurityStatus() orchestrator.SecurityStatus
	UpdateConfig(partial map[string]any) error
	IsRunning() bool
}

// RunResponse is returned by POST /run.
type RunResponse struct {
	Mode   string                       `json:"mode"`
	Async  bool                         `json:"async"`
	State  *state.State                 `json:"state,omitempty"`
	Status *orchestrator.SecurityStatus `json:"status,omitempty"`
}

type Config struct {
	Runner  Runner
	Metrics http.Handler
	// Health serves /live and /ready. Nil means both always report ok.
	Health      healthcheck.Handler
	AuthToken   string
	Logger      *zap.Logger
	CORSOrigins []string // Allowed CORS origins (empty = allow all)
	RateLimit   int      // Requests per second per IP (0 = disabled)
	RateBurst   int      // Burst size for rate limiter
	// RunTimeout bounds background runs started with async=true.
	RunTimeout time.Duration
}

type Server struct {
	cfg      Config
	mux      *http.ServeMux
	limiters *rateLimiterMap
	// jobs holds at most one background run.
	jobs *ants.Pool
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("api: runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Health == nil {
		cfg.Health = healthcheck.NewHandler()
	}
	pool, err := ants.NewPool(1, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	srv := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		limiters: newRateLimiterMap(),
		jobs:     pool,
	}
	srv.routes()
	return srv, nil
}

// Close stops the limiter janitor and waits for a background run to finish.
func (s *Server) Close(timeout time.Duration) error {
	s.limiters.stop()
	return s.jobs.ReleaseTimeout(timeout)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// RequestID -> Logging -> RateLimit -> CORS -> mux
	handler := middleware.RequestID(s.withLogging(s.withRateLimit(s.withCORS(s.mux))))
	handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.Handle("/api/v1/state", s.withAuth(http.HandlerFunc(s.handleState)))
	s.mux.Handle("/api/v1/status", s.withAuth(http.HandlerFunc(s.handleStatus)))
	s.mux.Handle("/api/v1/run", s.withAuth(http.HandlerFunc(s.handleRun)))
	s.mux.Handle("/api/v1/config", s.withAuth(http.HandlerFunc(s.handleConfig)))

	s.mux.Handle("/live", s.cfg.Health)
	s.mux.Handle("/ready", s.cfg.Health)
	if s.cfg.Metrics != nil {
		s.mux.Handle("/metrics", s.cfg.Metrics)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Runner.State())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Runner.SecurityStatus())
}

// handleRun starts a run. ?mode=quick selects the quick subset and
// ?async=true returns 202 immediately while the run proceeds in the
// background.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = orchestrator.ModeFull
	}
	if mode != orchestrator.ModeFull && mode != orchestrator.ModeQuick {
		s.writeError(w, r, http.StatusBadRequest, errors.New("mode must be full or quick"))
		return
	}
	start := s.cfg.Runner.Start
	if mode == orchestrator.ModeQuick {
		start = s.cfg.Runner.StartQuick
	}

	if r.URL.Query().Get("async") == "true" {
		s.startAsync(w, r, mode, start)
		return
	}

	st, err := start(r.Context())
	switch {
	case errors.Is(err, sharedErrors.ErrAlreadyRunning):
		s.writeError(w, r, http.StatusConflict, err)
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	status := orchestrator.StatusFrom(st)
	writeJSON(w, http.StatusOK, RunResponse{Mode: mode, State: &st, Status: &status})
}

func (s *Server) startAsync(w http.ResponseWriter, r *http.Request, mode string, start func(context.Context) (state.State, error)) {
	if s.cfg.Runner.IsRunning() {
		s.writeError(w, r, http.StatusConflict, sharedErrors.ErrAlreadyRunning)
		return
	}
	logger := s.requestLogger(r)
	err := s.jobs.Submit(func() {
		ctx := context.Background()
		if s.cfg.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
			defer cancel()
		}
		if _, err := start(ctx); err != nil {
			logger.Warn("background run failed", zap.String("mode", mode), zap.Error(err))
		}
	})
	if errors.Is(err, ants.ErrPoolOverload) {
		s.writeError(w, r, http.StatusConflict, sharedErrors.ErrAlreadyRunning)
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{Mode: mode, Async: true})
}

// handleConfig merges a partial configuration object into the engine's
// configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Runner.UpdateConfig(partial); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := clientAddress(r)
		limiter := s.limiters.getLimiter(clientIP, s.cfg.RateLimit, s.cfg.RateBurst)
		if !limiter.Allow() {
			s.requestLogger(r).Warn("rate_limit_exceeded", zap.String("client_ip", clientIP))
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientAddress returns the first X-Forwarded-For hop or the remote address,
// without the port.
func clientAddress(r *http.Request) string {
	clientIP := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			clientIP = strings.TrimSpace(forwarded[:idx])
		} else {
			clientIP = strings.TrimSpace(forwarded)
		}
	}
	if idx := strings.LastIndex(clientIP, ":"); idx > 0 {
		clientIP = clientIP[:idx]
	}
	return clientIP
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowOrigin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			allowOrigin = ""
			for _, allowed := range s.cfg.CORSOrigins {
				if allowed == origin {
					allowOrigin = origin
					break
				}
			}
		}

		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		s.cfg.Logger.Info("http_request",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lrw.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("bytes", lrw.bytesWritten),
		)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter captures the status code and bytes written.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += int64(n)
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes {"error": msg}. 5xx details are logged and replaced with
// a generic message; client errors are sanitized.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := probe.SanitizeErrorMessage(err.Error())
	if status >= 500 {
		s.requestLogger(r).Error("internal_server_error", zap.Error(err), zap.Int("status", status))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return middleware.Logger(r.Context(), s.cfg.Logger).With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

const (
	limiterIdle     = 5 * time.Minute
	limiterSweepGap = time.Minute
)

// rateLimiterMap holds per-client token buckets and evicts idle ones.
type rateLimiterMap struct {
	limiters cmap.ConcurrentMap[string, *ipLimiter]
	done     chan struct{}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterMap() *rateLimiterMap {
	m := &rateLimiterMap{
		limiters: cmap.New[*ipLimiter](),
		done:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *rateLimiterMap) getLimiter(ip string, rps, burst int) *rate.Limiter {
	now := time.Now()
	entry := m.limiters.Upsert(ip, nil, func(exist bool, current, _ *ipLimiter) *ipLimiter {
		if exist {
			current.lastSeen = now
			return current
		}
		return &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst), lastSeen: now}
	})
	return entry.limiter
}

func (m *rateLimiterMap) sweep(now time.Time) {
	for item := range m.limiters.IterBuffered() {
		ip := item.Key
		m.limiters.RemoveCb(ip, func(_ string, l *ipLimiter, exists bool) bool {
			return exists && now.Sub(l.lastSeen) > limiterIdle
		})
	}
}

func (m *rateLimiterMap) cleanupLoop() {
	ticker := time.NewTicker(limiterSweepGap)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *rateLimiterMap) stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}
