// Package linkage decides whether record pairs refer to the same entity,
// one pair at a time or across two datasets.
package linkage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/linkage/internal/classify"
	"github.com/efebarandurmaz/linkage/internal/embedding"
	"github.com/efebarandurmaz/linkage/internal/explain"
	"github.com/efebarandurmaz/linkage/internal/observability"
	"github.com/efebarandurmaz/linkage/internal/record"
)

// MaxComparisons caps the pairs a batch run evaluates.
const MaxComparisons = 1000

// Scorer computes similarity for serialized record texts.
type Scorer interface {
	ComputeSimilarity(ctx context.Context, a, b string) (embedding.Similarity, error)
	PredictBatch(ctx context.Context, pairs []embedding.TextPair) ([]float64, error)
}

// MatchResult is the outcome for one pair.
type MatchResult struct {
	Prediction  classify.MatchPrediction `json:"prediction"`
	Explanation *explain.Explanation     `json:"explanation,omitempty"`
	RecordPair  record.Pair              `json:"record_pair"`
}

// BatchMatchResult summarizes a batch run. MatchResults holds matches only.
type BatchMatchResult struct {
	RunID            string        `json:"run_id"`
	TotalComparisons int           `json:"total_comparisons"`
	MatchesFound     int           `json:"matches_found"`
	MatchResults     []MatchResult `json:"match_results"`
	ProcessingTime   float64       `json:"processing_time"`
	Truncated        bool          `json:"truncated"`
}

// RunInfo describes a finished batch run for sinks.
type RunInfo struct {
	ID        string
	Threshold float64
	StartedAt time.Time
	SizeA     int
	SizeB     int
}

// ResultSink receives every finished batch run.
type ResultSink interface {
	RecordBatch(ctx context.Context, run RunInfo, result *BatchMatchResult) error
}

// PredictOptions tune a single prediction.
type PredictOptions struct {
	Threshold          *float64
	IncludeExplanation bool
}

// BatchOptions tune a batch run.
type BatchOptions struct {
	Threshold           *float64
	IncludeExplanations bool
}

// Matcher combines a scorer, a threshold and an optional attributor.
type Matcher struct {
	scorer     Scorer
	attributor explain.Attributor
	threshold  float64
	sinks      []ResultSink
	logger     *slog.Logger
	metrics    *observability.LinkageMetrics
}

type Option func(*Matcher)

func WithAttributor(a explain.Attributor) Option {
	return func(m *Matcher) { m.attributor = a }
}

// WithThreshold sets the default decision threshold.
func WithThreshold(t float64) Option {
	return func(m *Matcher) { m.threshold = t }
}

// WithSinks adds result sinks notified after each batch run.
func WithSinks(sinks ...ResultSink) Option {
	return func(m *Matcher) { m.sinks = append(m.sinks, sinks...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

func WithMetrics(mt *observability.LinkageMetrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// NewMatcher creates a matcher around scorer.
func NewMatcher(scorer Scorer, opts ...Option) *Matcher {
	m := &Matcher{
		scorer:    scorer,
		threshold: classify.DefaultThreshold,
		logger:    slog.Default(),
		metrics:   observability.Metrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the default decision threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// PredictMatch classifies one pair. A pair without common fields scores 0
// and never touches the scorer.
func (m *Matcher) PredictMatch(ctx context.Context, pair record.Pair, opts PredictOptions) (*MatchResult, error) {
	common := pair.CommonFields()
	ctx, span := observability.StartPredictSpan(ctx, len(common))
	defer span.End()

	var score float64
	if len(common) > 0 {
		a, b := record.SerializePair(pair)
		sim, err := m.scorer.ComputeSimilarity(ctx, a, b)
		if err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("compute similarity: %w", err)
		}
		score = sim.Score
	}

	pred := classify.Classify(score, classify.EffectiveThreshold(opts.Threshold, m.threshold))
	m.metrics.RecordPrediction(pred.SimilarityScore, pred.IsMatch)

	result := &MatchResult{Prediction: pred, RecordPair: pair}
	if opts.IncludeExplanation {
		result.Explanation = m.explain(ctx, pair)
	}
	return result, nil
}

// BatchPredict matches every record of a against every record of b in
// row-major order, stopping after MaxComparisons pairs.
func (m *Matcher) BatchPredict(ctx context.Context, a, b []record.Record, opts BatchOptions) (*BatchMatchResult, error) {
	started := time.Now()
	threshold := classify.EffectiveThreshold(opts.Threshold, m.threshold)
	ctx, span := observability.StartBatchSpan(ctx, len(a), len(b))
	defer span.End()

	pairs := crossProduct(a, b, MaxComparisons)
	truncated := len(a)*len(b) > len(pairs)

	scores, err := m.ScorePairs(ctx, pairs)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	result := &BatchMatchResult{
		RunID:            uuid.NewString(),
		TotalComparisons: len(pairs),
		MatchResults:     []MatchResult{},
		Truncated:        truncated,
	}
	for i, pair := range pairs {
		pred := classify.Classify(scores[i], threshold)
		m.metrics.RecordPrediction(pred.SimilarityScore, pred.IsMatch)
		if !pred.IsMatch {
			continue
		}
		mr := MatchResult{Prediction: pred, RecordPair: pair}
		if opts.IncludeExplanations {
			mr.Explanation = m.explain(ctx, pair)
		}
		result.MatchResults = append(result.MatchResults, mr)
	}
	result.MatchesFound = len(result.MatchResults)

	elapsed := time.Since(started)
	result.ProcessingTime = elapsed.Seconds()
	m.metrics.RecordBatch(elapsed, result.TotalComparisons, truncated)
	observability.RecordBatchResult(span, result.TotalComparisons, result.MatchesFound, truncated)

	m.logger.Info("batch run complete",
		"run_id", result.RunID,
		"comparisons", result.TotalComparisons,
		"matches", result.MatchesFound,
		"truncated", truncated,
		"duration_ms", elapsed.Milliseconds())

	run := RunInfo{ID: result.RunID, Threshold: threshold, StartedAt: started, SizeA: len(a), SizeB: len(b)}
	for _, sink := range m.sinks {
		if err := sink.RecordBatch(ctx, run, result); err != nil {
			m.logger.Warn("result sink failed", "run_id", result.RunID, "error", err)
		}
	}
	return result, nil
}

// ScorePairs returns one similarity per pair. Pairs without common fields
// score 0; the rest are scored in a single batch.
func (m *Matcher) ScorePairs(ctx context.Context, pairs []record.Pair) ([]float64, error) {
	scores := make([]float64, len(pairs))
	texts := make([]embedding.TextPair, 0, len(pairs))
	idx := make([]int, 0, len(pairs))
	for i, p := range pairs {
		if len(p.CommonFields()) == 0 {
			continue
		}
		ta, tb := record.SerializePair(p)
		texts = append(texts, embedding.TextPair{A: ta, B: tb})
		idx = append(idx, i)
	}
	if len(texts) == 0 {
		return scores, nil
	}

	batch, err := m.scorer.PredictBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("score pairs: %w", err)
	}
	for j, i := range idx {
		scores[i] = batch[j]
	}
	return scores, nil
}

// explain returns nil when no attributor is set or when it fails.
func (m *Matcher) explain(ctx context.Context, pair record.Pair) *explain.Explanation {
	if m.attributor == nil {
		return nil
	}
	exp, err := m.attributor.Explain(ctx, pair)
	if err != nil {
		m.logger.Warn("explanation failed", "method", m.attributor.Method(), "error", err)
		return nil
	}
	return exp
}

func crossProduct(a, b []record.Record, limit int) []record.Pair {
	n := min(len(a)*len(b), limit)
	pairs := make([]record.Pair, 0, n)
	for _, ra := range a {
		for _, rb := range b {
			if len(pairs) == limit {
				return pairs
			}
			pairs = append(pairs, record.NewPair(ra, rb))
		}
	}
	return pairs
}

var _ Scorer = (*embedding.Model)(nil)
