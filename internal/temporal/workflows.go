// Package temporal runs batch matching as a durable Temporal workflow.
package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
)

// DatasetSource names where a side of the batch comes from. Exactly one of
// Records, Name or Path is used, in that order of preference.
type DatasetSource struct {
	Records []record.Record `json:"records,omitempty"`
	Name    string          `json:"name,omitempty"` // catalog dataset
	Path    string          `json:"path,omitempty"` // CSV or JSON file
}

// BatchMatchInput holds the workflow parameters.
type BatchMatchInput struct {
	DatasetA            DatasetSource `json:"dataset_a"`
	DatasetB            DatasetSource `json:"dataset_b"`
	Threshold           *float64      `json:"threshold,omitempty"`
	IncludeExplanations bool          `json:"include_explanations"`
}

// BatchMatchWorkflow loads both datasets concurrently, then runs one batch
// match over them.
func BatchMatchWorkflow(ctx workflow.Context, input BatchMatchInput) (*linkage.BatchMatchResult, error) {
	loadCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
	futA := workflow.ExecuteActivity(loadCtx, LoadDatasetActivity, input.DatasetA)
	futB := workflow.ExecuteActivity(loadCtx, LoadDatasetActivity, input.DatasetB)

	var a, b []record.Record
	if err := futA.Get(ctx, &a); err != nil {
		return nil, fmt.Errorf("load dataset a: %w", err)
	}
	if err := futB.Get(ctx, &b); err != nil {
		return nil, fmt.Errorf("load dataset b: %w", err)
	}

	// Sinks see every attempt, so the batch itself runs once.
	matchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var result linkage.BatchMatchResult
	err := workflow.ExecuteActivity(matchCtx, BatchMatchActivity, BatchMatchRequest{
		DatasetA:            a,
		DatasetB:            b,
		Threshold:           input.Threshold,
		IncludeExplanations: input.IncludeExplanations,
	}).Get(ctx, &result)
	if err != nil {
		return nil, fmt.Errorf("batch match: %w", err)
	}

	workflow.GetLogger(ctx).Info("batch match workflow complete",
		"run_id", result.RunID, "comparisons", result.TotalComparisons, "matches", result.MatchesFound)
	return &result, nil
}
