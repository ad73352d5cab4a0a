// Package server runs the health probes and the graceful shutdown sequence
// shared by the API server and the worker.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// HealthStatus is the state of one component or of the whole process.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// checkTimeout bounds a full /healthz run.
const checkTimeout = 5 * time.Second

// HealthCheck is the outcome of one checker.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the body of every probe.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker inspects one dependency.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthConfig configures the health server.
type HealthConfig struct {
	Version string
	Addr    string
}

// HealthServer answers /healthz, /readyz and /livez.
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	addr    string
	ready   bool
	live    bool
	server  *http.Server
	logger  *slog.Logger
}

// NewHealthServer creates a health server that starts live but not ready.
func NewHealthServer(config *HealthConfig) *HealthServer {
	s := &HealthServer{
		checks: make(map[string]HealthChecker),
		live:   true,
		addr:   ":8081",
		logger: slog.Default(),
	}
	if config != nil {
		s.version = config.Version
		if config.Addr != "" {
			s.addr = config.Addr
		}
	}
	return s
}

// RegisterCheck adds or replaces a named checker.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler serves the probes.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
	return mux
}

// ListenAndServe blocks until Shutdown is called.
func (s *HealthServer) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting health server", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the health listener.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Run executes every checker and folds their results. Any unhealthy check
// makes the whole response unhealthy; degraded checks only degrade it.
func (s *HealthServer) Run(ctx context.Context) HealthResponse {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthChecker, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(names)

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Checks:    make([]HealthCheck, 0, len(names)),
	}
	for _, name := range names {
		check := checks[name](ctx)
		check.Name = name
		resp.Checks = append(resp.Checks, check)

		switch {
		case check.Status == HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case check.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := s.Run(ctx)
	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	probe(w, ready)
}

func (s *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	live := s.live
	s.mu.RUnlock()
	probe(w, live)
}

func probe(w http.ResponseWriter, ok bool) {
	resp := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC()}
	if !ok {
		resp.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ModelStatus reports the embedding model state.
type ModelStatus interface {
	Loaded() bool
	Device() string
	Name() string
}

// ModelHealthChecker reports the embedding model. The model loads lazily, so
// an unloaded model is healthy; only a failed verify is unhealthy.
func ModelHealthChecker(m ModelStatus, verify func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{
			"model":  m.Name(),
			"device": m.Device(),
			"loaded": strconv.FormatBool(m.Loaded()),
		}
		if verify != nil && m.Loaded() {
			if err := verify(ctx); err != nil {
				return HealthCheck{
					Status:  HealthStatusUnhealthy,
					Message: "embedding model failed: " + err.Error(),
					Details: details,
				}
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "embedding model OK", Details: details}
	}
}

// PingHealthChecker wraps a connectivity check. Required dependencies turn
// unhealthy on failure, optional ones only degrade.
func PingHealthChecker(component string, required bool, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			status := HealthStatusDegraded
			if required {
				status = HealthStatusUnhealthy
			}
			return HealthCheck{Status: status, Message: component + " unreachable: " + err.Error()}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: component + " OK"}
	}
}
