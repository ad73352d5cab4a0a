// Package classify turns a similarity score into a match decision.
package classify

// Confidence is a coarse bucket of the similarity score.
type Confidence string

const (
	High   Confidence = "High"
	Medium Confidence = "Medium"
	Low    Confidence = "Low"
)

// Confidence cut points. They do not move with the decision threshold.
const (
	HighCutoff   = 0.85
	MediumCutoff = 0.65
)

// DefaultThreshold is the decision threshold used when none is configured.
const DefaultThreshold = 0.75

// MatchPrediction is the decision for one record pair. MatchProbability
// always equals SimilarityScore.
type MatchPrediction struct {
	IsMatch          bool       `json:"is_match"`
	MatchProbability float64    `json:"match_probability"`
	Confidence       Confidence `json:"confidence"`
	SimilarityScore  float64    `json:"similarity_score"`
}

// Classify decides a match with score >= threshold.
func Classify(score, threshold float64) MatchPrediction {
	return MatchPrediction{
		IsMatch:          score >= threshold,
		MatchProbability: score,
		Confidence:       ConfidenceFor(score),
		SimilarityScore:  score,
	}
}

func ConfidenceFor(score float64) Confidence {
	switch {
	case score >= HighCutoff:
		return High
	case score >= MediumCutoff:
		return Medium
	default:
		return Low
	}
}

// EffectiveThreshold returns *override when set, else fallback.
func EffectiveThreshold(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}
