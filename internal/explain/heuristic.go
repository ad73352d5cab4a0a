package explain

import (
	"context"
	"log/slog"
	"strings"

	"github.com/efebarandurmaz/linkage/internal/embedding"
	"github.com/efebarandurmaz/linkage/internal/observability"
	"github.com/efebarandurmaz/linkage/internal/record"
)

// MethodFieldHeuristic tags explanations from FieldHeuristicAttributor.
const MethodFieldHeuristic = "FIELD_HEURISTIC"

// Field contribution constants.
const (
	ExactMatchContribution      = 0.8
	SubstringContribution       = 0.4
	PositiveListCutoff          = 0.3
	EmbeddingScale              = 0.1
	EncodeFailureContribution   = -0.2
	MismatchPenaltyContribution = -0.3
)

// DefaultMaxSamples bounds encoder calls per explanation.
const DefaultMaxSamples = 100

// FieldEncoder embeds texts. *embedding.Model satisfies it.
type FieldEncoder interface {
	Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// FieldHeuristicAttributor scores each aligned field pair by string
// comparison, falling back to the encoder for fields that differ.
type FieldHeuristicAttributor struct {
	encoder    FieldEncoder
	maxSamples int
	logger     *slog.Logger
	metrics    *observability.LinkageMetrics
}

type HeuristicOption func(*FieldHeuristicAttributor)

// WithEncoder enables embedding-based contributions for differing fields.
func WithEncoder(e FieldEncoder) HeuristicOption {
	return func(a *FieldHeuristicAttributor) { a.encoder = e }
}

// WithMaxSamples caps encoder calls per explanation. Fields past the cap get
// the fixed mismatch penalty.
func WithMaxSamples(n int) HeuristicOption {
	return func(a *FieldHeuristicAttributor) {
		if n >= 0 {
			a.maxSamples = n
		}
	}
}

func WithLogger(l *slog.Logger) HeuristicOption {
	return func(a *FieldHeuristicAttributor) { a.logger = l }
}

func WithMetrics(m *observability.LinkageMetrics) HeuristicOption {
	return func(a *FieldHeuristicAttributor) { a.metrics = m }
}

// NewFieldHeuristicAttributor creates an attributor. Without an encoder every
// differing field gets the fixed mismatch penalty.
func NewFieldHeuristicAttributor(opts ...HeuristicOption) *FieldHeuristicAttributor {
	a := &FieldHeuristicAttributor{
		maxSamples: DefaultMaxSamples,
		logger:     slog.Default(),
		metrics:    observability.Metrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FieldHeuristicAttributor) Method() string { return MethodFieldHeuristic }

func (a *FieldHeuristicAttributor) Explain(ctx context.Context, pair record.Pair) (*Explanation, error) {
	fields := record.ExtractFieldPairs(pair)
	ctx, span := observability.StartExplainSpan(ctx, MethodFieldHeuristic, len(fields))
	defer span.End()

	contribs := make([]FeatureContribution, 0, len(fields))
	var pos, neg []string
	samples := 0

	for _, fp := range fields {
		if err := ctx.Err(); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		va := strings.ToLower(strings.TrimSpace(fp.ValueA))
		vb := strings.ToLower(strings.TrimSpace(fp.ValueB))

		var c float64
		switch {
		case va == vb:
			c = ExactMatchContribution
			pos = append(pos, fp.Name)
		case strings.Contains(vb, va) || strings.Contains(va, vb):
			c = SubstringContribution
			if c > PositiveListCutoff {
				pos = append(pos, fp.Name)
			}
		default:
			if a.encoder != nil && samples < a.maxSamples {
				samples++
				c = a.embeddingContribution(ctx, fp)
			} else {
				c = MismatchPenaltyContribution
			}
			if c < 0 {
				neg = append(neg, fp.Name)
			}
		}

		contribs = append(contribs, FeatureContribution{
			FieldName:    fp.Name,
			Contribution: c,
			ValueA:       fp.ValueA,
			ValueB:       fp.ValueB,
		})
	}

	a.metrics.ExplanationsTotal.Inc()
	return newExplanation(MethodFieldHeuristic, contribs, pos, neg), nil
}

// embeddingContribution is the mean of the joint field embedding, scaled
// into a small range.
func (a *FieldHeuristicAttributor) embeddingContribution(ctx context.Context, fp record.FieldPair) float64 {
	text := fp.ValueA + record.PairSeparator + fp.ValueB
	vecs, err := a.encoder.Encode(ctx, []string{text}, 1)
	if err != nil || len(vecs) != 1 {
		a.metrics.ExplanationFallbacks.Inc()
		a.logger.Warn("field embedding failed, using fallback contribution",
			"field", fp.Name, "error", err)
		return EncodeFailureContribution
	}
	return embedding.Mean(vecs[0]) * EmbeddingScale
}

var (
	_ Attributor   = (*FieldHeuristicAttributor)(nil)
	_ FieldEncoder = (*embedding.Model)(nil)
)
