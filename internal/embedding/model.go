package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/efebarandurmaz/linkage/internal/observability"
)

// DefaultBatchSize is the encode chunk size when none is configured.
const DefaultBatchSize = 32

// TextPair is a pair of serialized texts to score.
type TextPair struct {
	A string
	B string
}

// Similarity is the result of scoring one text pair.
type Similarity struct {
	Score      float64
	EmbeddingA []float32
	EmbeddingB []float32
}

// Model is the embedding engine. It moves from Unloaded to Loaded exactly
// once; the first caller of EnsureLoaded (or of any encode operation)
// constructs the backend while concurrent callers wait for it.
type Model struct {
	factory   *Factory
	cfg       BackendConfig
	batchSize int
	logger    *slog.Logger
	metrics   *observability.LinkageMetrics

	mu      sync.RWMutex
	backend Backend
}

// Option configures a Model.
type Option func(*Model)

// WithBatchSize sets the default encode chunk size.
func WithBatchSize(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *observability.LinkageMetrics) Option {
	return func(m *Model) { m.metrics = mt }
}

// NewModel creates an unloaded model.
func NewModel(factory *Factory, cfg BackendConfig, opts ...Option) *Model {
	m := &Model{
		factory:   factory,
		cfg:       cfg,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		metrics:   observability.Metrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureLoaded constructs the backend if it is not loaded yet. A failure
// leaves the model unloaded and is returned wrapped in ErrLoadFailure.
func (m *Model) EnsureLoaded(ctx context.Context) error {
	_, _, err := m.load(ctx)
	return err
}

// current returns the backend and the config it was built from as one
// consistent pair.
func (m *Model) current() (Backend, BackendConfig) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend, m.cfg
}

func (m *Model) load(ctx context.Context) (Backend, BackendConfig, error) {
	if b, cfg := m.current(); b != nil {
		return b, cfg, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		return m.backend, m.cfg, nil
	}

	b, err := m.construct(ctx, m.cfg)
	if err != nil {
		return nil, BackendConfig{}, err
	}
	m.backend = b
	return b, m.cfg, nil
}

func (m *Model) construct(ctx context.Context, cfg BackendConfig) (Backend, error) {
	ctx, span := observability.StartLoadSpan(ctx, cfg.Backend, cfg.Model)
	defer span.End()

	start := time.Now()
	b, err := m.factory.Create(ctx, cfg)
	m.metrics.RecordModelLoad(err)
	if err != nil {
		observability.RecordError(span, err)
		m.logger.Error("embedding model load failed",
			"backend", cfg.Backend, "model", cfg.Model, "path", cfg.ModelPath, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrLoadFailure, err)
	}
	m.logger.Info("embedding model loaded",
		"backend", cfg.Backend, "model", cfg.Model, "device", b.Device(),
		"duration_ms", time.Since(start).Milliseconds())
	return b, nil
}

// Loaded reports whether a backend is in place.
func (m *Model) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend != nil
}

// Device returns the device chosen at load time, or the configured
// preference while unloaded.
func (m *Model) Device() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.backend != nil {
		return m.backend.Device()
	}
	if m.cfg.Device == "" {
		return DeviceCPU
	}
	return m.cfg.Device
}

// Name returns the configured model identifier.
func (m *Model) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Model
}

// BatchSize returns the default encode chunk size.
func (m *Model) BatchSize() int {
	return m.batchSize
}

// Encode embeds texts in chunks of batchSize (the model default when <= 0),
// preserving input order.
func (m *Model) Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	b, cfg, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = m.batchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := m.encodeChunk(ctx, b, cfg.Backend, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (m *Model) encodeChunk(ctx context.Context, b Backend, backend string, texts []string) ([][]float32, error) {
	ctx, span := observability.StartEncodeSpan(ctx, backend, len(texts))
	defer span.End()

	start := time.Now()
	vecs, err := b.Encode(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("backend returned %d vectors for %d texts", len(vecs), len(texts))
	}
	m.metrics.RecordEncode(time.Since(start), len(texts), err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrComputation, err)
	}
	return vecs, nil
}

// ComputeSimilarity encodes both texts and returns their cosine similarity
// clamped into [0, 1] along with both embeddings.
func (m *Model) ComputeSimilarity(ctx context.Context, a, b string) (Similarity, error) {
	vecs, err := m.Encode(ctx, []string{a, b}, 0)
	if err != nil {
		return Similarity{}, err
	}
	return Similarity{
		Score:      Clamp01(Cosine(vecs[0], vecs[1])),
		EmbeddingA: vecs[0],
		EmbeddingB: vecs[1],
	}, nil
}

// PredictBatch scores each pair. All A texts are encoded as one batch series
// and all B texts as another, then compared elementwise.
func (m *Model) PredictBatch(ctx context.Context, pairs []TextPair) ([]float64, error) {
	if len(pairs) == 0 {
		return []float64{}, nil
	}
	as := make([]string, len(pairs))
	bs := make([]string, len(pairs))
	for i, p := range pairs {
		as[i], bs[i] = p.A, p.B
	}

	va, err := m.Encode(ctx, as, 0)
	if err != nil {
		return nil, fmt.Errorf("encode a texts: %w", err)
	}
	vb, err := m.Encode(ctx, bs, 0)
	if err != nil {
		return nil, fmt.Errorf("encode b texts: %w", err)
	}

	scores := make([]float64, len(pairs))
	for i := range pairs {
		scores[i] = Clamp01(Cosine(va[i], vb[i]))
	}
	return scores, nil
}

// Save persists the loaded model into dir.
func (m *Model) Save(dir string) error {
	b, cfg := m.current()
	if b == nil {
		return ErrNotLoaded
	}
	p, ok := b.(Persister)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPersistable, cfg.Backend)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}
	if err := p.Save(dir); err != nil {
		return fmt.Errorf("save model to %s: %w", dir, err)
	}
	m.logger.Info("embedding model saved", "path", dir)
	return nil
}

// LoadFineTuned replaces the current backend with one built from dir. The
// previous backend is closed as soon as the new one is in place, so callers
// must not run LoadFineTuned while Encode or PredictBatch calls are in flight.
func (m *Model) LoadFineTuned(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return fmt.Errorf("stat model directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	cfg.ModelPath = dir
	b, err := m.construct(ctx, cfg)
	if err != nil {
		return err
	}
	if m.backend != nil {
		if err := m.backend.Close(); err != nil {
			m.logger.Warn("closing previous backend", "error", err)
		}
	}
	m.backend = b
	m.cfg = cfg
	return nil
}

// Close releases the backend at process shutdown.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return nil
	}
	err := m.backend.Close()
	m.backend = nil
	return err
}
