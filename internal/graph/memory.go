package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
)

// Memory is an in-process MatchGraph.
type Memory struct {
	mu    sync.RWMutex
	text  map[string]string
	edges map[string][]Edge
}

func NewMemory() *Memory {
	return &Memory{text: make(map[string]string), edges: make(map[string][]Edge)}
}

func (m *Memory) RecordBatch(_ context.Context, run linkage.RunInfo, result *linkage.BatchMatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mr := range result.MatchResults {
		a, b := mr.RecordPair.RecordA, mr.RecordPair.RecordB
		ka, kb := a.Key(), b.Key()
		m.text[ka] = record.Serialize(a, nil)
		m.text[kb] = record.Serialize(b, nil)
		score := mr.Prediction.SimilarityScore
		conf := string(mr.Prediction.Confidence)
		m.edges[ka] = append(m.edges[ka], Edge{RecordID: kb, Score: score, Confidence: conf, RunID: run.ID})
		m.edges[kb] = append(m.edges[kb], Edge{RecordID: ka, Score: score, Confidence: conf, RunID: run.ID})
	}
	return nil
}

func (m *Memory) Neighbors(_ context.Context, recordID string, limit int) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edges := make([]Edge, len(m.edges[recordID]))
	copy(edges, m.edges[recordID])
	for i := range edges {
		edges[i].Text = m.text[edges[i].RecordID]
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	return edges, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close(context.Context) error { return nil }

var _ MatchGraph = (*Memory)(nil)
