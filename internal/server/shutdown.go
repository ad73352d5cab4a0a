package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook priorities. Lower runs first.
const (
	PriorityHTTP     = 10
	PriorityWorker   = 20
	PriorityModel    = 50
	PriorityTracing  = 80
	PriorityDatabase = 90
)

// ShutdownHook is one step of the shutdown sequence.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *slog.Logger
}

// DefaultShutdownConfig waits 30s after SIGTERM or SIGINT.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// ShutdownHandler runs registered hooks once, on a signal or on Shutdown.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	signals []os.Signal
	logger  *slog.Logger

	started      bool
	triggerCh    chan struct{}
	startingCh   chan struct{}
	doneCh       chan struct{}
	triggerOnce  sync.Once
	startingOnce sync.Once
}

func NewShutdownHandler(config *ShutdownConfig) *ShutdownHandler {
	def := DefaultShutdownConfig()
	if config == nil {
		config = def
	}
	h := &ShutdownHandler{
		timeout:    config.Timeout,
		signals:    config.Signals,
		logger:     config.Logger,
		triggerCh:  make(chan struct{}),
		startingCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if h.timeout <= 0 {
		h.timeout = def.Timeout
	}
	if len(h.signals) == 0 {
		h.signals = def.Signals
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterHook adds a hook. Hooks of equal priority keep registration order.
func (s *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, ShutdownHook{Name: name, Priority: priority, Fn: fn})
	sort.SliceStable(s.hooks, func(i, j int) bool { return s.hooks[i].Priority < s.hooks[j].Priority })
}

// Start listens for the configured signals.
func (s *ShutdownHandler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutdown signal received", "signal", sig.String())
		case <-s.triggerCh:
			s.logger.Info("shutdown requested")
		}
		signal.Stop(sigCh)
		s.run()
	}()
}

// Shutdown triggers the sequence without a signal. It is a no-op before Start.
func (s *ShutdownHandler) Shutdown() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.triggerOnce.Do(func() { close(s.triggerCh) })
}

// Wait blocks until every hook has run.
func (s *ShutdownHandler) Wait() {
	<-s.doneCh
}

// WaitWithTimeout reports whether shutdown finished within timeout.
func (s *ShutdownHandler) WaitWithTimeout(timeout time.Duration) bool {
	select {
	case <-s.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *ShutdownHandler) Done() <-chan struct{} {
	return s.doneCh
}

// Starting closes when the sequence begins.
func (s *ShutdownHandler) Starting() <-chan struct{} {
	return s.startingCh
}

func (s *ShutdownHandler) run() {
	s.startingOnce.Do(func() { close(s.startingCh) })

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := make([]ShutdownHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, hook := range hooks {
		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", "hook", hook.Name, "error", err)
			continue
		}
		s.logger.Debug("shutdown hook done", "hook", hook.Name, "duration", time.Since(start))
	}
	close(s.doneCh)
}

// GracefulServer ties the health probes to the shutdown sequence: readiness
// drops as soon as shutdown starts.
type GracefulServer struct {
	Health   *HealthServer
	Shutdown *ShutdownHandler
}

func NewGracefulServer(healthConfig *HealthConfig, shutdownConfig *ShutdownConfig) *GracefulServer {
	health := NewHealthServer(healthConfig)
	shutdown := NewShutdownHandler(shutdownConfig)
	health.logger = shutdown.logger

	shutdown.RegisterHook("health-server", 5, health.Shutdown)
	go func() {
		<-shutdown.Starting()
		health.SetReady(false)
	}()

	return &GracefulServer{Health: health, Shutdown: shutdown}
}

// Start serves the probes in the background and marks the process ready.
func (g *GracefulServer) Start() {
	g.Shutdown.Start()
	go func() {
		if err := g.Health.ListenAndServe(); err != nil {
			g.Shutdown.logger.Error("health server failed", "error", err)
		}
	}()
	g.Health.SetReady(true)
}

func (g *GracefulServer) Wait() {
	g.Shutdown.Wait()
}

func (g *GracefulServer) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	g.Shutdown.RegisterHook(name, priority, fn)
}
