// Command worker runs the Temporal worker for durable batch matching.
package main

import (
	"context"
	"log"
	"os"

	"go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/linkage/internal/app"
	"github.com/efebarandurmaz/linkage/internal/server"
	temporalmod "github.com/efebarandurmaz/linkage/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	ctx := context.Background()
	a, err := app.New(ctx, configPath, app.Options{Sinks: true})
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := a.Config

	// Load before taking work so the first activity does not pay for it.
	if err := a.Model.EnsureLoaded(ctx); err != nil {
		a.Close(ctx)
		log.Fatalf("model: %v", err)
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Matcher: a.Matcher,
		Catalog: a.Catalog,
	})

	c, err := temporalmod.Dial(cfg.Temporal.Host, cfg.Temporal.Namespace, a.Logger)
	if err != nil {
		a.Close(ctx)
		log.Fatalf("temporal: %v", err)
	}

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		c.Close()
		a.Close(ctx)
		log.Fatalf("worker: %v", err)
	}
	a.Logger.Info("worker started",
		"task_queue", cfg.Temporal.TaskQueue,
		"namespace", cfg.Temporal.Namespace,
		"model", a.Model.Name(),
		"device", a.Model.Device())

	gs := server.NewGracefulServer(
		&server.HealthConfig{Version: cfg.Version, Addr: cfg.Server.HealthAddr},
		&server.ShutdownConfig{Timeout: cfg.Server.ShutdownTimeout, Logger: a.Logger},
	)
	gs.Health.RegisterCheck("model", server.ModelHealthChecker(a.Model, nil))
	gs.Health.RegisterCheck("temporal", server.PingHealthChecker("temporal", true, func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}))
	if a.Store != nil {
		gs.Health.RegisterCheck("database", server.PingHealthChecker("sqlite", false, a.Store.Ping))
	}
	if a.Graph != nil {
		gs.Health.RegisterCheck("graph", server.PingHealthChecker("neo4j", false, a.Graph.Ping))
	}

	gs.RegisterHook("temporal-worker", server.PriorityWorker, func(context.Context) error {
		w.Stop()
		c.Close()
		return nil
	})
	gs.RegisterHook("services", server.PriorityDatabase, a.Close)

	gs.Start()
	gs.Wait()
}
