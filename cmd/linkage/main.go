package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/linkage/internal/api"
	"github.com/efebarandurmaz/linkage/internal/app"
	"github.com/efebarandurmaz/linkage/internal/dataset"
	"github.com/efebarandurmaz/linkage/internal/embedding"
	"github.com/efebarandurmaz/linkage/internal/evaluate"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
	"github.com/efebarandurmaz/linkage/internal/server"
	temporalmod "github.com/efebarandurmaz/linkage/internal/temporal"
	"github.com/efebarandurmaz/linkage/internal/vector"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, noMatchColor.Sprint("error: ")+err.Error())
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	jsonOut    bool
	plain      bool
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "linkage",
		Short:         "Embedding-based record linkage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rf.configPath, "config", "", "Config file path (default ./linkage.yaml when present)")
	root.PersistentFlags().BoolVar(&rf.jsonOut, "json", false, "Print results as JSON")
	root.PersistentFlags().BoolVar(&rf.plain, "plain", false, "Print markdown without terminal styling")

	root.AddCommand(
		newMatchCmd(&rf),
		newBatchCmd(&rf),
		newEvaluateCmd(&rf),
		newServeCmd(&rf),
		newDatasetsCmd(&rf),
		newIndexCmd(&rf),
		newSearchCmd(&rf),
		newRunsCmd(&rf),
		newModelCmd(&rf),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "linkage %s\n", version)
			},
		},
	)
	return root
}

// withApp builds the app, runs fn and releases everything afterwards.
func withApp(cmd *cobra.Command, rf *rootFlags, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, rf.configPath, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func thresholdFlag(cmd *cobra.Command, value float64) (*float64, error) {
	if !cmd.Flags().Changed("threshold") {
		return nil, nil
	}
	if value < 0 || value > 1 {
		return nil, fmt.Errorf("threshold must be within [0, 1], got %v", value)
	}
	return &value, nil
}

func newMatchCmd(rf *rootFlags) *cobra.Command {
	var (
		a, b       string
		fieldsA    []string
		fieldsB    []string
		threshold  float64
		withoutWhy bool
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Decide whether two records refer to the same entity",
		Example: `  linkage match --a '{"name":"John Smith","age":"45"}' --b '{"name":"Jon Smith","age":"45"}'
  linkage match --field-a name="John Smith" --field-b name="Jon Smith"
  linkage match --a @left.json --b @right.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ra, err := recordFromFlags(a, fieldsA, "a")
			if err != nil {
				return err
			}
			rb, err := recordFromFlags(b, fieldsB, "b")
			if err != nil {
				return err
			}
			th, err := thresholdFlag(cmd, threshold)
			if err != nil {
				return err
			}
			return withApp(cmd, rf, app.Options{}, func(ctx context.Context, app *app.App) error {
				res, err := app.Matcher.PredictMatch(ctx, record.NewPair(ra, rb), linkage.PredictOptions{
					Threshold:          th,
					IncludeExplanation: !withoutWhy && app.Config.Explain.Enabled,
				})
				if err != nil {
					return err
				}
				if rf.jsonOut {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				renderMatch(cmd.OutOrStdout(), res, app.Config.Explain.NumFeatures)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&a, "a", "", "Record A as JSON, or @file")
	cmd.Flags().StringVar(&b, "b", "", "Record B as JSON, or @file")
	cmd.Flags().StringArrayVar(&fieldsA, "field-a", nil, "Record A field as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&fieldsB, "field-b", nil, "Record B field as name=value (repeatable)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Decision threshold (default from config)")
	cmd.Flags().BoolVar(&withoutWhy, "no-explain", false, "Skip the explanation")
	return cmd
}

func recordFromFlags(raw string, fields []string, side string) (record.Record, error) {
	switch {
	case raw != "" && len(fields) > 0:
		return record.Record{}, fmt.Errorf("use either --%s or --field-%s", side, side)
	case raw != "":
		return parseRecord(raw)
	case len(fields) > 0:
		return parseFieldFlags(fields)
	default:
		return record.Record{}, fmt.Errorf("record %s is required (--%s or --field-%s)", side, side, side)
	}
}

func newBatchCmd(rf *rootFlags) *cobra.Command {
	var (
		threshold float64
		explain   bool
		durable   bool
		show      int
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "batch DATASET_A DATASET_B",
		Short: "Match every record of one dataset against another",
		Long: `Each argument is a CSV or JSON file, or a catalog dataset name.
At most 1000 pairs are compared, in row-major order.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			th, err := thresholdFlag(cmd, threshold)
			if err != nil {
				return err
			}
			return withApp(cmd, rf, app.Options{Sinks: !durable}, func(ctx context.Context, app *app.App) error {
				var res *linkage.BatchMatchResult
				if durable {
					res, err = runDurable(ctx, app, args, th, explain)
				} else {
					res, err = runLocal(ctx, app, args, th, explain)
				}
				if err != nil {
					return err
				}
				if outPath != "" {
					if err := writeResultFile(outPath, res); err != nil {
						return err
					}
				}
				if rf.jsonOut {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				renderMarkdown(cmd.OutOrStdout(), batchMarkdown(res, show), rf.plain)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Decision threshold (default from config)")
	cmd.Flags().BoolVar(&explain, "explain", false, "Attach explanations to matches")
	cmd.Flags().BoolVar(&durable, "durable", false, "Run as a Temporal workflow on the configured task queue")
	cmd.Flags().IntVar(&show, "show", 20, "Matches to print (0 for all)")
	cmd.Flags().StringVar(&outPath, "out", "", "Also write the JSON result to this file")
	return cmd
}

func runLocal(ctx context.Context, app *app.App, args []string, th *float64, explain bool) (*linkage.BatchMatchResult, error) {
	a, err := app.LoadRecords(args[0])
	if err != nil {
		return nil, err
	}
	b, err := app.LoadRecords(args[1])
	if err != nil {
		return nil, err
	}
	return app.Matcher.BatchPredict(ctx, a, b, linkage.BatchOptions{Threshold: th, IncludeExplanations: explain})
}

func sourceFor(arg string) temporalmod.DatasetSource {
	if _, err := os.Stat(arg); err == nil {
		if abs, err := filepath.Abs(arg); err == nil {
			arg = abs
		}
		return temporalmod.DatasetSource{Path: arg}
	}
	return temporalmod.DatasetSource{Name: arg}
}

func runDurable(ctx context.Context, app *app.App, args []string, th *float64, explain bool) (*linkage.BatchMatchResult, error) {
	tc := app.Config.Temporal
	c, err := temporalmod.Dial(tc.Host, tc.Namespace, app.Logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return temporalmod.RunBatch(ctx, c, tc.TaskQueue, temporalmod.BatchMatchInput{
		DatasetA:            sourceFor(args[0]),
		DatasetB:            sourceFor(args[1]),
		Threshold:           th,
		IncludeExplanations: explain,
	})
}

func writeResultFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newEvaluateCmd(rf *rootFlags) *cobra.Command {
	var (
		casesPath string
		threshold float64
		optimize  bool
		baseline  bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score labeled record pairs and report accuracy, precision, recall and F1",
		RunE: func(cmd *cobra.Command, args []string) error {
			cases := evaluate.DefaultCases()
			if casesPath != "" {
				var err error
				if cases, err = evaluate.LoadCases(casesPath); err != nil {
					return err
				}
			}
			return withApp(cmd, rf, app.Options{}, func(ctx context.Context, app *app.App) error {
				score := evaluate.ScoreFunc(app.Matcher.ScorePairs)
				title := "Embedding evaluation"
				if baseline {
					score = evaluate.OverlapScores
					title = "String overlap baseline"
				}

				var (
					report *evaluate.Report
					err    error
				)
				if optimize {
					report, err = evaluate.OptimizeThreshold(ctx, cases, score, nil)
					title += " (optimized threshold)"
				} else {
					th := app.Config.Matching.Threshold
					if cmd.Flags().Changed("threshold") {
						th = threshold
					}
					report, err = evaluate.Evaluate(ctx, cases, score, th)
				}
				if err != nil {
					return err
				}
				if rf.jsonOut {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				renderMarkdown(cmd.OutOrStdout(), reportMarkdown(title, report), rf.plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&casesPath, "cases", "", "JSON file of labeled cases (default built-in cases)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Decision threshold (default from config)")
	cmd.Flags().BoolVar(&optimize, "optimize", false, "Sweep thresholds and report the best F1")
	cmd.Flags().BoolVar(&baseline, "baseline", false, "Use the string overlap baseline instead of embeddings")
	return cmd
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{Sinks: true, Vectors: true}, func(ctx context.Context, app *app.App) error {
				if addr == "" {
					addr = app.Config.Server.Addr
				}
				if err := app.Model.EnsureLoaded(ctx); err != nil {
					return fmt.Errorf("load embedding model: %w", err)
				}
				return serve(app, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func serve(app *app.App, addr string) error {
	deps := api.Deps{
		Model:   app.Model,
		Matcher: app.Matcher,
		Catalog: app.Catalog,
		Metrics: app.Metrics,
		Logger:  app.Logger,
	}
	if app.Store != nil {
		deps.Runs = app.Store
	}
	if app.Graph != nil {
		deps.Graph = app.Graph
	}
	if app.Indexer != nil {
		deps.Search = app.Indexer
	}
	apiServer := api.NewServer(&api.Config{
		ListenAddr:  addr,
		Version:     app.Config.Version,
		CORSOrigins: app.Config.Server.CORSOrigins,
	}, deps)

	gs := server.NewGracefulServer(
		&server.HealthConfig{Version: app.Config.Version, Addr: app.Config.Server.HealthAddr},
		&server.ShutdownConfig{Timeout: app.Config.Server.ShutdownTimeout, Logger: app.Logger},
	)
	gs.Health.RegisterCheck("model", server.ModelHealthChecker(app.Model, func(ctx context.Context) error {
		_, err := app.Model.Encode(ctx, []string{"health"}, 1)
		return err
	}))
	if app.Store != nil {
		gs.Health.RegisterCheck("database", server.PingHealthChecker("sqlite", true, app.Store.Ping))
	}
	if app.Graph != nil {
		gs.Health.RegisterCheck("graph", server.PingHealthChecker("neo4j", false, app.Graph.Ping))
	}
	if p, ok := app.Vectors.(vector.Pinger); ok {
		gs.Health.RegisterCheck("vector", server.PingHealthChecker(app.Config.Vector.Backend, false, p.Ping))
	}
	gs.RegisterHook("api-server", server.PriorityHTTP, apiServer.Stop)

	gs.Start()
	errc := make(chan error, 1)
	go func() { errc <- apiServer.Start() }()

	select {
	case err := <-errc:
		gs.Shutdown.Shutdown()
		gs.Wait()
		return err
	case <-gs.Shutdown.Done():
		return <-errc
	}
}

func newDatasetsCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Inspect the benchmark dataset catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{}, func(ctx context.Context, app *app.App) error {
				infos := app.Catalog.List()
				if rf.jsonOut {
					return writeJSON(cmd.OutOrStdout(), infos)
				}
				renderMarkdown(cmd.OutOrStdout(), datasetsMarkdown(infos), rf.plain)
				return nil
			})
		},
	})

	var samples int
	info := &cobra.Command{
		Use:   "info NAME",
		Short: "Describe one dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{}, func(ctx context.Context, app *app.App) error {
				in, err := app.Catalog.Info(args[0], samples)
				if err != nil {
					return err
				}
				if rf.jsonOut {
					return writeJSON(cmd.OutOrStdout(), in)
				}
				renderMarkdown(cmd.OutOrStdout(), datasetMarkdown(in), rf.plain)
				return nil
			})
		},
	}
	info.Flags().IntVar(&samples, "samples", dataset.DefaultSamples, "Sample records to show")
	cmd.AddCommand(info)
	return cmd
}

var errNoVectorIndex = errors.New("no vector index configured (set vector.backend)")

func newIndexCmd(rf *rootFlags) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "index DATASET",
		Short: "Embed a dataset into the configured vector index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{Vectors: true}, func(ctx context.Context, app *app.App) error {
				if app.Indexer == nil {
					return errNoVectorIndex
				}
				if app.Config.Vector.Backend == "memory" {
					return errors.New("the memory index does not outlive the command; use search --from or serve")
				}
				recs, err := app.LoadRecords(args[0])
				if err != nil {
					return err
				}
				if source == "" {
					source = args[0]
				}
				start := time.Now()
				n, err := app.Indexer.IndexRecords(ctx, recs, source)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %s records from %s in %s\n",
					matchColor.Sprint(n), source, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source label stored with each record (default the dataset argument)")
	return cmd
}

func newSearchCmd(rf *rootFlags) *cobra.Command {
	var (
		raw    string
		fields []string
		topK   int
		from   string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find indexed records closest to a query record",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := recordFromFlags(raw, fields, "record")
			if err != nil {
				return err
			}
			return withApp(cmd, rf, app.Options{Vectors: true}, func(ctx context.Context, app *app.App) error {
				if app.Indexer == nil {
					return errNoVectorIndex
				}
				if from != "" {
					recs, err := app.LoadRecords(from)
					if err != nil {
						return err
					}
					if _, err := app.Indexer.IndexRecords(ctx, recs, from); err != nil {
						return err
					}
				}
				cands, err := app.Indexer.Search(ctx, q, topK)
				if err != nil {
					return err
				}
				if rf.jsonOut {
					return writeJSON(cmd.OutOrStdout(), cands)
				}
				renderCandidates(cmd.OutOrStdout(), cands)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&raw, "record", "", "Query record as JSON, or @file")
	cmd.Flags().StringArrayVar(&fields, "field-record", nil, "Query field as name=value (repeatable)")
	cmd.Flags().IntVar(&topK, "top-k", 10, "Candidates to return")
	cmd.Flags().StringVar(&from, "from", "", "Index this dataset before searching")
	return cmd
}

func newRunsCmd(rf *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [ID]",
		Short: "List stored batch runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{Sinks: true}, func(ctx context.Context, app *app.App) error {
				if app.Store == nil {
					return errors.New("no run store configured (set store.path)")
				}
				if len(args) == 1 {
					run, err := app.Store.GetRun(ctx, args[0])
					if err != nil {
						return err
					}
					matches, err := app.Store.RunMatches(ctx, args[0])
					if err != nil {
						return err
					}
					res := &linkage.BatchMatchResult{
						RunID:            run.ID,
						TotalComparisons: run.TotalComparisons,
						MatchesFound:     run.MatchesFound,
						MatchResults:     matches,
						ProcessingTime:   run.ProcessingTime,
						Truncated:        run.Truncated,
					}
					if rf.jsonOut {
						return writeJSON(cmd.OutOrStdout(), api.RunResponse{Run: run, Matches: matches})
					}
					renderMarkdown(cmd.OutOrStdout(), batchMarkdown(res, 0), rf.plain)
					return nil
				}
				runs, err := app.Store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if rf.jsonOut {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				renderMarkdown(cmd.OutOrStdout(), runsMarkdown(runs), rf.plain)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Runs to list")
	return cmd
}

func newModelCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Load, verify and persist the embedding model",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Load the model and score a known pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{}, func(ctx context.Context, app *app.App) error {
				return verifyModel(ctx, cmd, app)
			})
		},
	})

	var savePath string
	save := &cobra.Command{
		Use:   "save",
		Short: "Persist the loaded model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{}, func(ctx context.Context, app *app.App) error {
				if savePath == "" {
					savePath = app.Config.Model.Path
				}
				if err := app.Model.EnsureLoaded(ctx); err != nil {
					return err
				}
				if err := app.Model.Save(savePath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s model to %s\n", app.Config.Model.Backend, savePath)
				return nil
			})
		},
	}
	save.Flags().StringVar(&savePath, "path", "", "Target directory (default model.path)")

	var loadPath string
	load := &cobra.Command{
		Use:   "load",
		Short: "Load a saved model and verify it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rf, app.Options{}, func(ctx context.Context, app *app.App) error {
				if loadPath == "" {
					loadPath = app.Config.Model.Path
				}
				if err := app.Model.LoadFineTuned(ctx, loadPath); err != nil {
					return err
				}
				return verifyModel(ctx, cmd, app)
			})
		},
	}
	load.Flags().StringVar(&loadPath, "path", "", "Saved model directory (default model.path)")

	cmd.AddCommand(save, load)
	return cmd
}

func verifyModel(ctx context.Context, cmd *cobra.Command, app *app.App) error {
	start := time.Now()
	a := "age: 45 | city: Boston | name: John Smith"
	b := "age: 45 | city: Boston | name: Jon Smith"
	sim, err := app.Model.ComputeSimilarity(ctx, a, b)
	if err != nil {
		return err
	}
	if len(sim.EmbeddingA) == 0 {
		return fmt.Errorf("%w: empty embedding", embedding.ErrComputation)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model      %s (%s)\n", app.Model.Name(), app.Config.Model.Backend)
	fmt.Fprintf(out, "device     %s\n", app.Model.Device())
	fmt.Fprintf(out, "dimensions %d\n", len(sim.EmbeddingA))
	fmt.Fprintf(out, "similarity %s  (%q vs %q)\n", matchColor.Sprintf("%.4f", sim.Score), a, b)
	fmt.Fprintf(out, "elapsed    %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
