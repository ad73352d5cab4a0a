package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/efebarandurmaz/linkage/internal/dataset"
	"github.com/efebarandurmaz/linkage/internal/evaluate"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
	"github.com/efebarandurmaz/linkage/internal/store"
)

const (
	defaultNeighbors = 20
	defaultTopK      = 10
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// BatchRequest is the body of POST /api/v1/match/batch.
type BatchRequest struct {
	DatasetA            []record.Record `json:"dataset_a"`
	DatasetB            []record.Record `json:"dataset_b"`
	Threshold           *float64        `json:"threshold,omitempty"`
	IncludeExplanations bool            `json:"include_explanations"`
}

// OptimizeRequest is the body of POST /api/v1/match/threshold/optimize.
// The built-in cases are used when Cases is empty.
type OptimizeRequest struct {
	Cases      []evaluate.Case `json:"cases"`
	Candidates []float64       `json:"candidates,omitempty"`
}

// RunResponse is a stored run with its matches.
type RunResponse struct {
	Run     store.Run             `json:"run"`
	Matches []linkage.MatchResult `json:"matches"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"message": "Record Linkage API",
		"version": s.config.Version,
		"api":     Prefix,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Version: s.config.Version, Device: "cpu"}
	if s.deps.Model != nil {
		resp.ModelLoaded = s.deps.Model.Loaded()
		resp.Device = s.deps.Model.Device()
	}
	respondJSON(w, resp)
}

func checkThreshold(t *float64) error {
	if t != nil && (*t < 0 || *t > 1) {
		return badRequest("threshold must be within [0, 1], got %v", *t)
	}
	return nil
}

func validRecord(side string, rec record.Record) error {
	if rec.Fields == nil {
		return badRequest("%s.fields is required", side)
	}
	return nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("%s must be true or false", name)
	}
	return v, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, badRequest("%s must be a positive integer", name)
	}
	return v, nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	explain, err := boolParam(r, "include_explanation", true)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	var pair record.Pair
	if err := decodeJSON(w, r, &pair); err != nil {
		respondError(w, s.logger, err)
		return
	}
	if err := validRecord("record_a", pair.RecordA); err != nil {
		respondError(w, s.logger, err)
		return
	}
	if err := validRecord("record_b", pair.RecordB); err != nil {
		respondError(w, s.logger, err)
		return
	}

	result, err := s.deps.Matcher.PredictMatch(r.Context(), pair, linkage.PredictOptions{IncludeExplanation: explain})
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}
	if err := checkThreshold(req.Threshold); err != nil {
		respondError(w, s.logger, err)
		return
	}
	for i, rec := range req.DatasetA {
		if err := validRecord("dataset_a["+strconv.Itoa(i)+"]", rec); err != nil {
			respondError(w, s.logger, err)
			return
		}
	}
	for i, rec := range req.DatasetB {
		if err := validRecord("dataset_b["+strconv.Itoa(i)+"]", rec); err != nil {
			respondError(w, s.logger, err)
			return
		}
	}

	result, err := s.deps.Matcher.BatchPredict(r.Context(), req.DatasetA, req.DatasetB, linkage.BatchOptions{
		Threshold:           req.Threshold,
		IncludeExplanations: req.IncludeExplanations,
	})
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}
	cases := req.Cases
	if len(cases) == 0 {
		cases = evaluate.DefaultCases()
	}
	candidates := req.Candidates
	for _, c := range candidates {
		if err := checkThreshold(&c); err != nil {
			respondError(w, s.logger, err)
			return
		}
	}
	if len(candidates) == 0 {
		candidates = evaluate.DefaultCandidates()
	}

	report, err := evaluate.OptimizeThreshold(r.Context(), cases, s.deps.Matcher.ScorePairs, candidates)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, report)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.deps.Catalog.List())
}

func (s *Server) handleDatasetInfo(w http.ResponseWriter, r *http.Request) {
	withSamples, err := boolParam(r, "include_samples", true)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	samples := 0
	if withSamples {
		samples = dataset.DefaultSamples
	}
	info, err := s.deps.Catalog.Info(mux.Vars(r)["name"], samples)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, s.logger, notConfigured("run history store"))
		return
	}
	limit, err := intParam(r, "limit", store.DefaultListLimit)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, s.logger, notConfigured("run history store"))
		return
	}
	id := mux.Vars(r)["id"]
	run, err := s.deps.Runs.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	matches, err := s.deps.Runs.RunMatches(r.Context(), id)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, RunResponse{Run: run, Matches: matches})
}

func (s *Server) handleRecordMatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graph == nil {
		respondError(w, s.logger, notConfigured("match graph"))
		return
	}
	limit, err := intParam(r, "limit", defaultNeighbors)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	edges, err := s.deps.Graph.Neighbors(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, edges)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		respondError(w, s.logger, notConfigured("vector index"))
		return
	}
	topK, err := intParam(r, "top_k", defaultTopK)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	var rec record.Record
	if err := decodeJSON(w, r, &rec); err != nil {
		respondError(w, s.logger, err)
		return
	}
	if err := validRecord("record", rec); err != nil {
		respondError(w, s.logger, err)
		return
	}
	candidates, err := s.deps.Search.Search(r.Context(), rec, topK)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, candidates)
}
