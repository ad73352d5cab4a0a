package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/linkage/internal/dataset"
	"github.com/efebarandurmaz/linkage/internal/embedding"
	"github.com/efebarandurmaz/linkage/internal/evaluate"
	"github.com/efebarandurmaz/linkage/internal/explain"
	"github.com/efebarandurmaz/linkage/internal/graph"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/observability"
	"github.com/efebarandurmaz/linkage/internal/record"
	"github.com/efebarandurmaz/linkage/internal/store"
	"github.com/efebarandurmaz/linkage/internal/vector"
)

type testEnv struct {
	handler http.Handler
	model   *embedding.Model
	graph   *graph.Memory
	store   *store.Store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, full bool) *testEnv {
	t.Helper()
	logger := quietLogger()
	metrics := observability.NewLinkageMetrics()

	f := embedding.NewFactory()
	f.Register("hash", embedding.NewHash)
	model := embedding.NewModel(f, embedding.BackendConfig{Backend: "hash", Model: "hash"},
		embedding.WithLogger(logger), embedding.WithMetrics(metrics))

	dir := t.TempDir()
	csv := "title,authors,year\nDeep Learning,LeCun,2015\nRecord Linkage,Fellegi,1969\n"
	if err := os.WriteFile(filepath.Join(dir, "dblp_acm.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{model: model}
	deps := Deps{
		Model:   model,
		Catalog: dataset.NewCatalog(dir),
		Metrics: metrics,
		Logger:  logger,
	}
	var sinks []linkage.ResultSink
	if full {
		st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { st.Close() })
		env.store = st
		env.graph = graph.NewMemory()
		sinks = append(sinks, st, env.graph)

		ix := vector.NewIndexer(model, vector.NewMemory())
		if _, err := ix.IndexRecords(context.Background(), []record.Record{
			record.New("p1", map[string]string{"name": "John Smith", "city": "Boston"}),
			record.New("p2", map[string]string{"name": "Maria Garcia", "city": "Madrid"}),
		}, "people"); err != nil {
			t.Fatal(err)
		}
		deps.Runs = st
		deps.Graph = env.graph
		deps.Search = ix
	}
	deps.Matcher = linkage.NewMatcher(model,
		linkage.WithAttributor(explain.NewFieldHeuristicAttributor(explain.WithLogger(logger), explain.WithMetrics(metrics))),
		linkage.WithSinks(sinks...),
		linkage.WithLogger(logger),
		linkage.WithMetrics(metrics))

	env.handler = NewServer(&Config{Version: "0.1.0"}, deps).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func johnPair() record.Pair {
	return record.NewPair(
		record.New("", map[string]string{"name": "John Smith", "age": "45", "city": "Boston"}),
		record.New("", map[string]string{"name": "John Smith", "age": "45", "city": "Boston"}),
	)
}

func TestRootAndHealth(t *testing.T) {
	env := newEnv(t, false)

	w := env.do(t, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("root status %d", w.Code)
	}
	if root := decode[map[string]string](t, w); root["version"] != "0.1.0" {
		t.Fatalf("unexpected root %v", root)
	}

	h := decode[HealthResponse](t, env.do(t, http.MethodGet, "/api/v1/health", nil))
	if h.Status != "healthy" || h.ModelLoaded || h.Device != "cpu" {
		t.Fatalf("unexpected health before load %+v", h)
	}

	env.do(t, http.MethodPost, "/api/v1/match/predict", johnPair())
	h = decode[HealthResponse](t, env.do(t, http.MethodGet, "/api/v1/health", nil))
	if !h.ModelLoaded {
		t.Fatal("model should be loaded after a prediction")
	}
}

func TestPredict(t *testing.T) {
	env := newEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/match/predict", johnPair())
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	res := decode[linkage.MatchResult](t, w)
	if !res.Prediction.IsMatch || res.Prediction.Confidence != "High" {
		t.Fatalf("identical records should match with high confidence: %+v", res.Prediction)
	}
	if res.Explanation == nil || len(res.Explanation.TopPositiveFeatures) != 3 {
		t.Fatalf("expected explanation with 3 positive features, got %+v", res.Explanation)
	}

	w = env.do(t, http.MethodPost, "/api/v1/match/predict?include_explanation=false", johnPair())
	if res := decode[linkage.MatchResult](t, w); res.Explanation != nil {
		t.Fatal("explanation should be omitted")
	}
}

func TestPredict_BadInput(t *testing.T) {
	env := newEnv(t, false)
	tests := []struct {
		name string
		path string
		body any
	}{
		{"malformed json", "/api/v1/match/predict", "{"},
		{"missing fields", "/api/v1/match/predict", `{"record_a": {"id": "x"}, "record_b": {"fields": {}}}`},
		{"bad flag", "/api/v1/match/predict?include_explanation=maybe", johnPair()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			e := decode[ErrorResponse](t, w)
			if e.StatusCode != 400 || e.Error != "Bad Request" || e.Detail == "" {
				t.Fatalf("unexpected error body %+v", e)
			}
		})
	}
}

func TestBatch(t *testing.T) {
	env := newEnv(t, true)
	a := []record.Record{
		record.New("a0", map[string]string{"name": "John Smith", "city": "Boston"}),
		record.New("a1", map[string]string{"name": "Maria Garcia", "city": "Madrid"}),
	}
	b := []record.Record{
		record.New("b0", map[string]string{"name": "Maria Garcia", "city": "Madrid"}),
		record.New("b1", map[string]string{"name": "Wei Zhang", "city": "Shanghai"}),
		record.New("b2", map[string]string{"name": "John Smith", "city": "Boston"}),
	}

	w := env.do(t, http.MethodPost, "/api/v1/match/batch", BatchRequest{DatasetA: a, DatasetB: b, IncludeExplanations: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	res := decode[linkage.BatchMatchResult](t, w)
	if res.TotalComparisons != 6 {
		t.Fatalf("expected 6 comparisons, got %d", res.TotalComparisons)
	}
	if res.MatchesFound != 2 || len(res.MatchResults) != 2 {
		t.Fatalf("expected the 2 identical pairs to match, got %d", res.MatchesFound)
	}
	for _, mr := range res.MatchResults {
		if mr.Explanation == nil {
			t.Fatal("batch matches should carry explanations")
		}
	}

	// The run reached the store and the graph.
	runs := decode[[]store.Run](t, env.do(t, http.MethodGet, "/api/v1/runs", nil))
	if len(runs) != 1 || runs[0].ID != res.RunID || runs[0].SizeB != 3 {
		t.Fatalf("unexpected runs %+v", runs)
	}
	run := decode[RunResponse](t, env.do(t, http.MethodGet, "/api/v1/runs/"+res.RunID, nil))
	if len(run.Matches) != 2 {
		t.Fatalf("expected 2 stored matches, got %d", len(run.Matches))
	}
	edges := decode[[]graph.Edge](t, env.do(t, http.MethodGet, "/api/v1/records/a0/matches", nil))
	if len(edges) != 1 || edges[0].RecordID != "b2" {
		t.Fatalf("unexpected edges %+v", edges)
	}
}

func TestBatch_InvalidThreshold(t *testing.T) {
	env := newEnv(t, false)
	th := 1.5
	w := env.do(t, http.MethodPost, "/api/v1/match/batch", BatchRequest{Threshold: &th})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOptimizeThreshold(t *testing.T) {
	env := newEnv(t, false)
	w := env.do(t, http.MethodPost, "/api/v1/match/threshold/optimize", OptimizeRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	report := decode[evaluate.Report](t, w)
	if report.Total != len(evaluate.DefaultCases()) {
		t.Fatalf("expected the built-in cases, got %d", report.Total)
	}
	if report.Threshold <= 0 || report.Threshold >= 1 {
		t.Fatalf("threshold out of range: %f", report.Threshold)
	}

	w = env.do(t, http.MethodPost, "/api/v1/match/threshold/optimize", OptimizeRequest{Candidates: []float64{-1}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad candidate, got %d", w.Code)
	}
}

func TestDatasets(t *testing.T) {
	env := newEnv(t, false)

	list := decode[[]dataset.Info](t, env.do(t, http.MethodGet, "/api/v1/datasets", nil))
	if len(list) != 4 {
		t.Fatalf("expected 4 datasets, got %d", len(list))
	}

	info := decode[dataset.Info](t, env.do(t, http.MethodGet, "/api/v1/datasets/DBLP-ACM", nil))
	if info.NumRecords != 2 || len(info.SampleRecords) != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
	info = decode[dataset.Info](t, env.do(t, http.MethodGet, "/api/v1/datasets/dblp_acm?include_samples=false", nil))
	if len(info.SampleRecords) != 0 {
		t.Fatal("samples should be omitted")
	}

	if w := env.do(t, http.MethodGet, "/api/v1/datasets/imdb", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown dataset, got %d", w.Code)
	}
	// Known key, missing file.
	if w := env.do(t, http.MethodGet, "/api/v1/datasets/uci", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", w.Code)
	}
}

func TestOptionalBackends_NotConfigured(t *testing.T) {
	env := newEnv(t, false)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/runs"},
		{http.MethodGet, "/api/v1/runs/x"},
		{http.MethodGet, "/api/v1/records/x/matches"},
		{http.MethodPost, "/api/v1/records/search"},
	} {
		w := env.do(t, tc.method, tc.path, map[string]any{"fields": map[string]string{"a": "b"}})
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected 503, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestRunNotFound(t *testing.T) {
	env := newEnv(t, true)
	w := env.do(t, http.MethodGet, "/api/v1/runs/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSearch(t *testing.T) {
	env := newEnv(t, true)
	q := record.New("", map[string]string{"name": "John Smith", "city": "Boston"})
	w := env.do(t, http.MethodPost, "/api/v1/records/search?top_k=1", q)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	got := decode[[]vector.Candidate](t, w)
	if len(got) != 1 || got[0].Record.ID != "p1" || got[0].Source != "people" {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/records/search?top_k=zero", q); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad top_k, got %d", w.Code)
	}
}

func TestMetricsAndRouting(t *testing.T) {
	env := newEnv(t, false)
	env.do(t, http.MethodPost, "/api/v1/match/predict", johnPair())

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if !strings.Contains(w.Body.String(), "linkage_predictions_total 1") {
		t.Fatalf("metrics missing prediction count:\n%s", w.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/api/v1/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/match/predict", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/match/predict", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight failed: %d %v", rec.Code, rec.Header())
	}
}

func TestCORS_AllowList(t *testing.T) {
	h := corsMiddleware([]string{"http://localhost:3000"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allowed origin not echoed: %q", got)
	}

	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin should get no header, got %q", got)
	}
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer(&Config{ListenAddr: "127.0.0.1:0"}, Deps{Logger: quietLogger(), Catalog: dataset.NewCatalog(t.TempDir())})
	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Start returned %v", err)
	}
}
