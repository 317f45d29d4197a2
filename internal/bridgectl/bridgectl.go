// Package bridgectl implements the bridge daemon's control surface
// (C11/C12): /health and /metrics over HTTP, plus the rate limiter and
// circuit breaker that protect it from a runaway CLI client or a
// flapping extension connection. Adapted from the teacher's CDP proxy
// metrics/middleware stack (internal/cdpproxy), retargeted from
// per-request HTTP proxying to per-connection bridge routing.
package bridgectl

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/actionplane/browserctl/internal/bridge"
)

// clientWindow tracks one CLI client's request volume in a fixed
// one-minute window that restarts on the first request after it has
// expired, mirroring the teacher's SessionLimit shape.
type clientWindow struct {
	count        int64
	windowStart  time.Time
	blockedUntil time.Time
}

// RateLimiter throttles CLI clients that flood the bridge with more
// than maxPerMinute uniform-action requests; a client that exceeds the
// limit is refused for the next five minutes.
type RateLimiter struct {
	maxPerMinute int64
	mu           sync.Mutex
	windows      map[string]*clientWindow
}

func NewRateLimiter(maxPerMinute int64) *RateLimiter {
	return &RateLimiter{maxPerMinute: maxPerMinute, windows: make(map[string]*clientWindow)}
}

// Allow reports whether clientID may issue another request now.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.windows[clientID]
	if !ok {
		rl.windows[clientID] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if now.Before(w.blockedUntil) {
		return false
	}
	if now.Sub(w.windowStart) > time.Minute {
		w.count = 1
		w.windowStart = now
		return true
	}
	w.count++
	if w.count > rl.maxPerMinute {
		w.blockedUntil = now.Add(5 * time.Minute)
		return false
	}
	return true
}

// CircuitState mirrors the teacher's three-state breaker.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

// CircuitBreaker trips when the extension side of the bridge drops
// repeatedly in a short window, so callers can fail fast instead of
// queuing requests nothing will ever answer.
type CircuitBreaker struct {
	threshold int64
	cooldown  time.Duration

	mu        sync.Mutex
	failures  int64
	lastTrip  time.Time
	state     CircuitState
}

func NewCircuitBreaker(threshold int64, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, state: Closed}
}

func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == Open {
		if time.Since(cb.lastTrip) > cb.cooldown {
			cb.state = HalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = Closed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastTrip = time.Now()
	if cb.failures >= cb.threshold {
		cb.state = Open
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Server exposes the daemon's /health and /metrics endpoints and wraps
// extension-disconnect detection behind a circuit breaker so external
// monitors can tell "extension flapping" apart from "daemon down".
type Server struct {
	daemon  *bridge.Daemon
	limiter *RateLimiter
	breaker *CircuitBreaker
	router  chi.Router
}

func New(d *bridge.Daemon) *Server {
	s := &Server{
		daemon:  d,
		limiter: NewRateLimiter(120),
		breaker: NewCircuitBreaker(5, 30*time.Second),
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NoteExtensionDisconnect feeds the circuit breaker; the bridge daemon
// calls this whenever its extension slot goes from occupied to empty,
// including when the daemon's own shutdown closes the extension socket.
func (s *Server) NoteExtensionDisconnect() { s.breaker.RecordFailure() }

// NoteExtensionConnect resets the breaker once an extension re-attaches.
func (s *Server) NoteExtensionConnect() { s.breaker.RecordSuccess() }

// AllowRequest applies the rate limiter for a CLI client id; callers
// that get false back should answer with a rate-limit error rather
// than forwarding to the extension.
func (s *Server) AllowRequest(clientID string) bool {
	return s.limiter.Allow(clientID)
}

// BreakerOpen reports whether the extension-connectivity breaker is
// currently tripped.
func (s *Server) BreakerOpen() bool {
	return !s.breaker.CanExecute()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.daemon.Stats()
	status := "healthy"
	code := http.StatusOK
	if s.BreakerOpen() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":           status,
		"extension_online": stats.ExtensionOnline,
		"cli_clients":      stats.CliCount,
		"timestamp":        time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.daemon.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"cli_clients":      stats.CliCount,
		"extension_online": stats.ExtensionOnline,
		"pending_bridges":  stats.PendingBridges,
		"circuit_state":    s.breaker.State(),
	})
}
