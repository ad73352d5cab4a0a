// Package app wires configuration into the services the commands and the
// worker share.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/efebarandurmaz/linkage/internal/config"
	"github.com/efebarandurmaz/linkage/internal/dataset"
	"github.com/efebarandurmaz/linkage/internal/embedding"
	"github.com/efebarandurmaz/linkage/internal/embedding/backends"
	"github.com/efebarandurmaz/linkage/internal/explain"
	"github.com/efebarandurmaz/linkage/internal/graph"
	"github.com/efebarandurmaz/linkage/internal/graph/neo4j"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/observability"
	"github.com/efebarandurmaz/linkage/internal/record"
	"github.com/efebarandurmaz/linkage/internal/secrets"
	"github.com/efebarandurmaz/linkage/internal/store"
	"github.com/efebarandurmaz/linkage/internal/vector"
	"github.com/efebarandurmaz/linkage/internal/vector/pgvector"
	"github.com/efebarandurmaz/linkage/internal/vector/qdrant"
)

// App holds the services one command needs. Optional backends stay nil
// unless configured and requested.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.LinkageMetrics
	Tracer  *observability.TracerProvider
	Model   *embedding.Model
	Matcher *linkage.Matcher
	Catalog *dataset.Catalog

	Store   *store.Store
	Graph   graph.MatchGraph
	Vectors vector.Repository
	Indexer *vector.Indexer

	closers []func(context.Context) error
}

// Options selects the optional backends to open.
type Options struct {
	Sinks   bool // run store and match graph
	Vectors bool // vector index
}

// New loads configuration from configPath and builds the services. The model
// is created but not loaded.
func New(ctx context.Context, configPath string, opts Options) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := resolveSecrets(ctx, cfg); err != nil {
		return nil, err
	}
	a := &App{
		Config:  cfg,
		Logger:  cfg.Log.Logger(os.Stderr),
		Metrics: observability.Metrics(),
		Catalog: dataset.NewCatalog(cfg.Data.RawDir),
	}
	slog.SetDefault(a.Logger)

	a.Tracer, err = observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "linkage",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Tracer.Shutdown)

	a.Model = embedding.NewModel(backends.NewFactory(cfg.Model.RemoteConfig()), cfg.Model.BackendConfig(),
		embedding.WithBatchSize(cfg.Model.BatchSize),
		embedding.WithLogger(a.Logger),
		embedding.WithMetrics(a.Metrics),
	)
	a.closers = append(a.closers, func(context.Context) error { return a.Model.Close() })

	var sinks []linkage.ResultSink
	if opts.Sinks {
		if err := a.openSinks(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
		if a.Store != nil {
			sinks = append(sinks, a.Store)
		}
		if a.Graph != nil {
			sinks = append(sinks, a.Graph)
		}
	}
	if opts.Vectors {
		if err := a.openVectors(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	matcherOpts := []linkage.Option{
		linkage.WithThreshold(cfg.Matching.Threshold),
		linkage.WithSinks(sinks...),
		linkage.WithLogger(a.Logger),
		linkage.WithMetrics(a.Metrics),
	}
	if cfg.Explain.Enabled {
		explainOpts := []explain.HeuristicOption{
			explain.WithMaxSamples(cfg.Explain.MaxSamples),
			explain.WithLogger(a.Logger),
			explain.WithMetrics(a.Metrics),
		}
		if cfg.Explain.UseEncoder {
			explainOpts = append(explainOpts, explain.WithEncoder(a.Model))
		}
		matcherOpts = append(matcherOpts, linkage.WithAttributor(explain.NewFieldHeuristicAttributor(explainOpts...)))
	}
	a.Matcher = linkage.NewMatcher(a.Model, matcherOpts...)
	return a, nil
}

// resolveSecrets fills credentials left empty in the config.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	m, err := secrets.NewManager(cfg.Secrets.ManagerConfig())
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	for key, dst := range map[string]*string{
		secrets.KeyModelAPIKey:   &cfg.Model.APIKey,
		secrets.KeyGraphPassword: &cfg.Graph.Password,
		secrets.KeyVectorDSN:     &cfg.Vector.DSN,
	} {
		if err := m.Fill(ctx, key, dst); err != nil {
			return fmt.Errorf("secret %s from %s: %w", key, m.Primary(), err)
		}
	}
	return nil
}

func (a *App) openSinks(ctx context.Context) error {
	if a.Config.Store.Path != "" {
		st, err := store.Open(ctx, a.Config.Store.Path)
		if err != nil {
			return err
		}
		a.Store = st
		a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	}
	if a.Config.Graph.URI != "" {
		g, err := neo4j.NewNeo4j(ctx, a.Config.Graph.URI, a.Config.Graph.Username, a.Config.Graph.Password)
		if err != nil {
			return err
		}
		a.Graph = g
		a.closers = append(a.closers, g.Close)
	}
	return nil
}

func (a *App) openVectors(ctx context.Context) error {
	vc := a.Config.Vector
	switch vc.Backend {
	case "":
		return nil
	case "memory":
		a.Vectors = vector.NewMemory()
	case "qdrant":
		dims, err := a.dimensions(ctx)
		if err != nil {
			return err
		}
		q, err := qdrant.NewQdrant(vc.Host, vc.Port, vc.Collection)
		if err != nil {
			return err
		}
		if err := q.EnsureCollection(ctx, dims); err != nil {
			q.Close()
			return err
		}
		a.Vectors = q
	case "pgvector":
		dims, err := a.dimensions(ctx)
		if err != nil {
			return err
		}
		pg, err := pgvector.Open(ctx, vc.DSN, vc.Collection)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx, dims); err != nil {
			pg.Close()
			return err
		}
		a.Vectors = pg
	default:
		return fmt.Errorf("unknown vector backend %q", vc.Backend)
	}
	repo := a.Vectors
	a.closers = append(a.closers, func(context.Context) error { return repo.Close() })
	a.Indexer = vector.NewIndexer(a.Model, a.Vectors)
	return nil
}

// dimensions loads the model and measures its output size.
func (a *App) dimensions(ctx context.Context) (int, error) {
	vecs, err := a.Model.Encode(ctx, []string{"probe"}, 1)
	if err != nil {
		return 0, err
	}
	return len(vecs[0]), nil
}

// LoadRecords reads a file when source names one, otherwise a catalog
// dataset.
func (a *App) LoadRecords(source string) ([]record.Record, error) {
	if _, err := os.Stat(source); err == nil {
		return dataset.LoadFile(source)
	}
	return a.Catalog.Load(source)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
