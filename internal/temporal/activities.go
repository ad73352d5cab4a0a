package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/linkage/internal/dataset"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
)

// BatchMatchRequest is the input of BatchMatchActivity.
type BatchMatchRequest struct {
	DatasetA            []record.Record `json:"dataset_a"`
	DatasetB            []record.Record `json:"dataset_b"`
	Threshold           *float64        `json:"threshold,omitempty"`
	IncludeExplanations bool            `json:"include_explanations"`
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Matcher *linkage.Matcher
	Catalog *dataset.Catalog
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

var errNoDependencies = errors.New("activity dependencies not set")

// LoadDatasetActivity resolves a DatasetSource to records. Unknown datasets
// and missing files fail without retry.
func LoadDatasetActivity(ctx context.Context, src DatasetSource) ([]record.Record, error) {
	var (
		recs []record.Record
		err  error
	)
	switch {
	case len(src.Records) > 0:
		return src.Records, nil
	case src.Name != "":
		if deps == nil || deps.Catalog == nil {
			return nil, temporal.NewNonRetryableApplicationError("no dataset catalog", "config", errNoDependencies)
		}
		recs, err = deps.Catalog.Load(src.Name)
	case src.Path != "":
		recs, err = dataset.LoadFile(src.Path)
	default:
		return []record.Record{}, nil
	}
	if errors.Is(err, dataset.ErrNotFound) {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "not_found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	activity.GetLogger(ctx).Info("dataset loaded", "name", src.Name, "path", src.Path, "records", len(recs))
	return recs, nil
}

// BatchMatchActivity runs the matcher over both datasets.
func BatchMatchActivity(ctx context.Context, req BatchMatchRequest) (*linkage.BatchMatchResult, error) {
	if deps == nil || deps.Matcher == nil {
		return nil, temporal.NewNonRetryableApplicationError("no matcher", "config", errNoDependencies)
	}
	var result *linkage.BatchMatchResult
	err := heartbeatWhile(ctx, heartbeatInterval, func() { activity.RecordHeartbeat(ctx, "matching") }, func() error {
		var err error
		result, err = deps.Matcher.BatchPredict(ctx, req.DatasetA, req.DatasetB, linkage.BatchOptions{
			Threshold:           req.Threshold,
			IncludeExplanations: req.IncludeExplanations,
		})
		return err
	})
	return result, err
}

// heartbeatInterval must stay well below the HeartbeatTimeout set in
// BatchMatchWorkflow.
var heartbeatInterval = 10 * time.Second

// heartbeatWhile calls beat once, then every interval until fn returns or
// ctx is done. No beat happens after heartbeatWhile returns.
func heartbeatWhile(ctx context.Context, interval time.Duration, beat func(), fn func() error) error {
	beat()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				beat()
			}
		}
	}()
	err := fn()
	close(done)
	wg.Wait()
	return err
}
