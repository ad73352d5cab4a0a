// Package graph keeps matched record pairs as edges so that the matches of
// any record can be looked up across batch runs.
package graph

import (
	"context"

	"github.com/efebarandurmaz/linkage/internal/linkage"
)

// Edge is a match between the queried record and another record.
type Edge struct {
	RecordID   string  `json:"record_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence"`
	RunID      string  `json:"run_id"`
}

// MatchGraph stores batch matches and answers neighbor queries.
type MatchGraph interface {
	linkage.ResultSink
	// Neighbors returns the strongest matches of recordID, best first.
	Neighbors(ctx context.Context, recordID string, limit int) ([]Edge, error)
	Ping(ctx context.Context) error
	// Close releases resources.
	Close(ctx context.Context) error
}
