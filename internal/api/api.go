// Package api serves the linkage HTTP API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/efebarandurmaz/linkage/internal/dataset"
	"github.com/efebarandurmaz/linkage/internal/graph"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/observability"
	"github.com/efebarandurmaz/linkage/internal/record"
	"github.com/efebarandurmaz/linkage/internal/store"
	"github.com/efebarandurmaz/linkage/internal/vector"
)

// Prefix is the versioned API path prefix.
const Prefix = "/api/v1"

// ModelStatus reports the embedding model state. *embedding.Model satisfies it.
type ModelStatus interface {
	Loaded() bool
	Device() string
}

// RunStore is the read side of the run history. *store.Store satisfies it.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (store.Run, error)
	RunMatches(ctx context.Context, id string) ([]linkage.MatchResult, error)
}

// Searcher finds candidate records. *vector.Indexer satisfies it.
type Searcher interface {
	Search(ctx context.Context, r record.Record, topK int) ([]vector.Candidate, error)
}

// Config holds the server settings.
type Config struct {
	ListenAddr  string
	Version     string
	CORSOrigins []string
}

// Deps are the services behind the handlers. Runs, Graph and Search are
// optional; their endpoints answer 503 when unset.
type Deps struct {
	Model   ModelStatus
	Matcher *linkage.Matcher
	Catalog *dataset.Catalog
	Metrics *observability.LinkageMetrics
	Runs    RunStore
	Graph   graph.MatchGraph
	Search  Searcher
	Logger  *slog.Logger
}

// Server is the API HTTP server.
type Server struct {
	config *Config
	deps   Deps
	logger *slog.Logger
	router *mux.Router
	server *http.Server
}

// NewServer creates the server and registers every route.
func NewServer(config *Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.Metrics()
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		router: mux.NewRouter(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix(Prefix).Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1.HandleFunc("/match/predict", s.handlePredict).Methods(http.MethodPost)
	v1.HandleFunc("/match/batch", s.handleBatch).Methods(http.MethodPost)
	v1.HandleFunc("/match/threshold/optimize", s.handleOptimize).Methods(http.MethodPost)

	v1.HandleFunc("/datasets", s.handleListDatasets).Methods(http.MethodGet)
	v1.HandleFunc("/datasets/{name}", s.handleDatasetInfo).Methods(http.MethodGet)

	v1.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)

	v1.HandleFunc("/records/{id}/matches", s.handleRecordMatches).Methods(http.MethodGet)
	v1.HandleFunc("/records/search", s.handleSearch).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, s.logger, notFound("no route for %s", r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondStatus(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	})
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.config.CORSOrigins, s.router)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting api server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping api server")
	return s.server.Shutdown(ctx)
}
