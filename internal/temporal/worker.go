package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/efebarandurmaz/linkage/internal/linkage"
)

// Dial connects to the Temporal frontend, logging through logger.
func Dial(hostPort, namespace string, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    log.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return c, nil
}

// Register adds the workflow and its activities to a worker.
func Register(w worker.Registry) {
	w.RegisterWorkflow(BatchMatchWorkflow)
	w.RegisterActivity(LoadDatasetActivity)
	w.RegisterActivity(BatchMatchActivity)
}

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w)
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// RunBatch starts BatchMatchWorkflow and waits for its result.
func RunBatch(ctx context.Context, c client.Client, taskQueue string, input BatchMatchInput) (*linkage.BatchMatchResult, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "batch-match-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, BatchMatchWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	var result linkage.BatchMatchResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	return &result, nil
}
