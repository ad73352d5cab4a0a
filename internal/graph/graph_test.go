package graph

import (
	"context"
	"testing"

	"github.com/efebarandurmaz/linkage/internal/classify"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
)

func batch(pairs ...linkage.MatchResult) *linkage.BatchMatchResult {
	return &linkage.BatchMatchResult{MatchResults: pairs, MatchesFound: len(pairs)}
}

func match(a, b string, score float64) linkage.MatchResult {
	return linkage.MatchResult{
		Prediction: classify.Classify(score, 0.75),
		RecordPair: record.NewPair(
			record.New(a, map[string]string{"name": a}),
			record.New(b, map[string]string{"name": b}),
		),
	}
}

func TestMemory_Neighbors(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()
	if err := g.RecordBatch(ctx, linkage.RunInfo{ID: "r1"}, batch(match("a", "b", 0.8), match("a", "c", 0.95))); err != nil {
		t.Fatal(err)
	}
	if err := g.RecordBatch(ctx, linkage.RunInfo{ID: "r2"}, batch(match("d", "a", 0.9))); err != nil {
		t.Fatal(err)
	}

	edges, err := g.Neighbors(ctx, "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
	if edges[0].RecordID != "c" || edges[1].RecordID != "d" || edges[2].RecordID != "b" {
		t.Fatalf("edges not ordered by score: %+v", edges)
	}
	if edges[1].RunID != "r2" || edges[0].Confidence != "High" || edges[0].Text != "name: c" {
		t.Fatalf("edge attributes wrong: %+v", edges)
	}

	// Edges are undirected.
	back, _ := g.Neighbors(ctx, "b", 10)
	if len(back) != 1 || back[0].RecordID != "a" {
		t.Fatalf("expected reverse edge, got %+v", back)
	}

	limited, _ := g.Neighbors(ctx, "a", 1)
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %d", len(limited))
	}

	none, _ := g.Neighbors(ctx, "zzz", 5)
	if none == nil || len(none) != 0 {
		t.Fatal("unknown record should give an empty, non-nil slice")
	}
}
