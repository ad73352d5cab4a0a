// Package explain attributes a match decision to individual fields.
package explain

import (
	"context"
	"sort"

	"github.com/efebarandurmaz/linkage/internal/record"
)

// MaxTopFeatures bounds the positive and negative feature lists.
const MaxTopFeatures = 5

// FeatureContribution is one field's share of the decision.
type FeatureContribution struct {
	FieldName    string  `json:"field_name"`
	Contribution float64 `json:"contribution"`
	ValueA       string  `json:"value_a"`
	ValueB       string  `json:"value_b"`
}

// Explanation lists field contributions ordered by descending magnitude.
type Explanation struct {
	Method               string                `json:"method"`
	FeatureContributions []FeatureContribution `json:"feature_contributions"`
	TopPositiveFeatures  []string              `json:"top_positive_features"`
	TopNegativeFeatures  []string              `json:"top_negative_features"`
}

// Attributor produces explanations for record pairs.
type Attributor interface {
	Method() string
	Explain(ctx context.Context, pair record.Pair) (*Explanation, error)
}

// newExplanation sorts contributions by |contribution| (stable, so ties keep
// field order) and truncates the top lists.
func newExplanation(method string, contribs []FeatureContribution, pos, neg []string) *Explanation {
	sort.SliceStable(contribs, func(i, j int) bool {
		return abs(contribs[i].Contribution) > abs(contribs[j].Contribution)
	})
	return &Explanation{
		Method:               method,
		FeatureContributions: contribs,
		TopPositiveFeatures:  truncate(pos, MaxTopFeatures),
		TopNegativeFeatures:  truncate(neg, MaxTopFeatures),
	}
}

func truncate(s []string, n int) []string {
	if s == nil {
		return []string{}
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
