// Package evaluate measures matching quality on labeled record pairs and
// picks the decision threshold that maximizes F1.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/efebarandurmaz/linkage/internal/record"
)

// Case is a labeled record pair.
type Case struct {
	Name          string            `json:"name"`
	RecordA       map[string]string `json:"record_a"`
	RecordB       map[string]string `json:"record_b"`
	ExpectedMatch bool              `json:"expected_match"`
}

// Pair builds the record pair for the case.
func (c Case) Pair() record.Pair {
	return record.NewPair(record.New("a", c.RecordA), record.New("b", c.RecordB))
}

// ScoreFunc scores a slice of pairs. linkage.Matcher.ScorePairs has this
// shape, as does OverlapScores.
type ScoreFunc func(ctx context.Context, pairs []record.Pair) ([]float64, error)

// CaseResult is the outcome for one case.
type CaseResult struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Predicted bool    `json:"predicted"`
	Expected  bool    `json:"expected"`
	Correct   bool    `json:"correct"`
}

// Report holds the confusion counts and derived metrics at one threshold.
type Report struct {
	Threshold      float64      `json:"threshold"`
	Total          int          `json:"total"`
	Correct        int          `json:"correct"`
	TruePositives  int          `json:"true_positives"`
	FalsePositives int          `json:"false_positives"`
	TrueNegatives  int          `json:"true_negatives"`
	FalseNegatives int          `json:"false_negatives"`
	Accuracy       float64      `json:"accuracy"`
	Precision      float64      `json:"precision"`
	Recall         float64      `json:"recall"`
	F1             float64      `json:"f1"`
	Results        []CaseResult `json:"results"`
}

// Evaluate scores every case and reports metrics at threshold.
func Evaluate(ctx context.Context, cases []Case, score ScoreFunc, threshold float64) (*Report, error) {
	scores, err := scoreCases(ctx, cases, score)
	if err != nil {
		return nil, err
	}
	return buildReport(cases, scores, threshold), nil
}

// DefaultCandidates returns thresholds 0.05 to 0.95 in steps of 0.05.
func DefaultCandidates() []float64 {
	out := make([]float64, 0, 19)
	for i := 1; i <= 19; i++ {
		out = append(out, math.Round(float64(i)*5)/100)
	}
	return out
}

// OptimizeThreshold scores the cases once and returns the report for the
// candidate with the best F1. Ties go to higher accuracy, then to the
// higher threshold.
func OptimizeThreshold(ctx context.Context, cases []Case, score ScoreFunc, candidates []float64) (*Report, error) {
	if len(candidates) == 0 {
		candidates = DefaultCandidates()
	}
	scores, err := scoreCases(ctx, cases, score)
	if err != nil {
		return nil, err
	}

	var best *Report
	for _, th := range candidates {
		r := buildReport(cases, scores, th)
		if best == nil || better(r, best) {
			best = r
		}
	}
	return best, nil
}

func better(r, best *Report) bool {
	if r.F1 != best.F1 {
		return r.F1 > best.F1
	}
	if r.Accuracy != best.Accuracy {
		return r.Accuracy > best.Accuracy
	}
	return r.Threshold > best.Threshold
}

func scoreCases(ctx context.Context, cases []Case, score ScoreFunc) ([]float64, error) {
	if len(cases) == 0 {
		return nil, errors.New("no evaluation cases")
	}
	pairs := make([]record.Pair, len(cases))
	for i, c := range cases {
		pairs[i] = c.Pair()
	}
	scores, err := score(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("score cases: %w", err)
	}
	if len(scores) != len(cases) {
		return nil, fmt.Errorf("got %d scores for %d cases", len(scores), len(cases))
	}
	return scores, nil
}

func buildReport(cases []Case, scores []float64, threshold float64) *Report {
	r := &Report{Threshold: threshold, Total: len(cases), Results: make([]CaseResult, len(cases))}
	for i, c := range cases {
		predicted := scores[i] >= threshold
		switch {
		case predicted && c.ExpectedMatch:
			r.TruePositives++
		case predicted && !c.ExpectedMatch:
			r.FalsePositives++
		case !predicted && c.ExpectedMatch:
			r.FalseNegatives++
		default:
			r.TrueNegatives++
		}
		correct := predicted == c.ExpectedMatch
		if correct {
			r.Correct++
		}
		r.Results[i] = CaseResult{
			Name:      c.Name,
			Score:     scores[i],
			Predicted: predicted,
			Expected:  c.ExpectedMatch,
			Correct:   correct,
		}
	}

	r.Accuracy = ratio(r.Correct, r.Total)
	r.Precision = ratio(r.TruePositives, r.TruePositives+r.FalsePositives)
	r.Recall = ratio(r.TruePositives, r.TruePositives+r.FalseNegatives)
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	return r
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// OverlapSimilarity is the string-overlap baseline: over the common fields,
// an equal value counts 1 and a substring counts 0.5, averaged. Values are
// compared lowercased. No common fields gives 0.
func OverlapSimilarity(pair record.Pair) float64 {
	common := pair.CommonFields()
	if len(common) == 0 {
		return 0
	}
	var matches float64
	for _, name := range common {
		a := strings.ToLower(pair.RecordA.Fields[name])
		b := strings.ToLower(pair.RecordB.Fields[name])
		switch {
		case a == b:
			matches++
		case strings.Contains(b, a) || strings.Contains(a, b):
			matches += 0.5
		}
	}
	return matches / float64(len(common))
}

// OverlapScores is a ScoreFunc for the baseline.
func OverlapScores(_ context.Context, pairs []record.Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = OverlapSimilarity(p)
	}
	return out, nil
}

// LoadCases reads a JSON array of cases.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cases, nil
}
