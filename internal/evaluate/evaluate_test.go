package evaluate

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/efebarandurmaz/linkage/internal/record"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOverlapSimilarity(t *testing.T) {
	cases := DefaultCases()
	tests := []struct {
		idx  int
		want float64
	}{
		{0, 1},
		{1, 0.5},
		{2, 0.25},
		{3, 1.0 / 3},
		{4, 0},
		{5, 0},
		{6, 0.5},
	}
	for _, tt := range tests {
		t.Run(cases[tt.idx].Name, func(t *testing.T) {
			if got := OverlapSimilarity(cases[tt.idx].Pair()); !approx(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlapSimilarity_NoCommonFields(t *testing.T) {
	p := record.NewPair(record.New("", map[string]string{"a": "x"}), record.New("", map[string]string{"b": "x"}))
	if OverlapSimilarity(p) != 0 {
		t.Fatal("expected 0 without common fields")
	}
}

func TestEvaluate_Baseline(t *testing.T) {
	r, err := Evaluate(context.Background(), DefaultCases(), OverlapScores, 0.75)
	if err != nil {
		t.Fatal(err)
	}
	if r.Total != 7 || r.Correct != 3 {
		t.Fatalf("expected 3/7 correct, got %d/%d", r.Correct, r.Total)
	}
	if r.TruePositives != 1 || r.FalseNegatives != 4 || r.TrueNegatives != 2 || r.FalsePositives != 0 {
		t.Fatalf("unexpected confusion counts %+v", r)
	}
	if !approx(r.Precision, 1) || !approx(r.Recall, 0.2) || !approx(r.F1, 1.0/3) {
		t.Fatalf("unexpected metrics p=%v r=%v f1=%v", r.Precision, r.Recall, r.F1)
	}
	if len(r.Results) != 7 || !r.Results[0].Correct {
		t.Fatal("per-case results missing")
	}
}

func TestOptimizeThreshold(t *testing.T) {
	r, err := OptimizeThreshold(context.Background(), DefaultCases(), OverlapScores, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(r.Threshold, 0.25) {
		t.Fatalf("expected threshold 0.25, got %v", r.Threshold)
	}
	if !approx(r.F1, 0.8) {
		t.Fatalf("expected F1 0.8, got %v", r.F1)
	}
}

func TestDefaultCandidates(t *testing.T) {
	c := DefaultCandidates()
	if len(c) != 19 || c[0] != 0.05 || c[18] != 0.95 || c[4] != 0.25 {
		t.Fatalf("unexpected candidates %v", c)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	if _, err := Evaluate(context.Background(), nil, OverlapScores, 0.5); err == nil {
		t.Fatal("expected error for empty cases")
	}
	boom := errors.New("boom")
	failing := func(context.Context, []record.Pair) ([]float64, error) { return nil, boom }
	if _, err := Evaluate(context.Background(), DefaultCases(), failing, 0.5); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	short := func(context.Context, []record.Pair) ([]float64, error) { return []float64{1}, nil }
	if _, err := Evaluate(context.Background(), DefaultCases(), short, 0.5); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestLoadCases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.json")
	body := `[{"name":"x","record_a":{"name":"A"},"record_b":{"name":"a"},"expected_match":true}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cases, err := LoadCases(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 1 || !cases[0].ExpectedMatch || cases[0].RecordB["name"] != "a" {
		t.Fatalf("unexpected cases %+v", cases)
	}
	if OverlapSimilarity(cases[0].Pair()) != 1 {
		t.Fatal("comparison should be case-insensitive")
	}
}
