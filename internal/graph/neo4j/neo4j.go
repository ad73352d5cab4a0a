// Package neo4j stores matches as (:Record)-[:MATCHES]->(:Record) edges.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/linkage/internal/graph"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
)

const (
	mergeMatches = `UNWIND $rows AS row
MERGE (a:Record {key: row.a})
  SET a.text = row.text_a
MERGE (b:Record {key: row.b})
  SET b.text = row.text_b
MERGE (a)-[m:MATCHES {run_id: $run_id}]->(b)
  SET m.score = row.score, m.confidence = row.confidence, m.threshold = $threshold`

	queryNeighbors = `MATCH (:Record {key: $key})-[m:MATCHES]-(o:Record)
RETURN o.key AS key, o.text AS text, m.score AS score, m.confidence AS confidence, m.run_id AS run_id
ORDER BY m.score DESC
LIMIT $limit`
)

// Neo4jRepository implements graph.MatchGraph using Neo4j.
type Neo4jRepository struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j creates a Neo4j-backed match graph and verifies connectivity.
func NewNeo4j(ctx context.Context, uri, username, password string) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver}, nil
}

// matchRows flattens a batch result into query parameters.
func matchRows(result *linkage.BatchMatchResult) []map[string]any {
	rows := make([]map[string]any, 0, len(result.MatchResults))
	for _, mr := range result.MatchResults {
		a, b := mr.RecordPair.RecordA, mr.RecordPair.RecordB
		rows = append(rows, map[string]any{
			"a":          a.Key(),
			"b":          b.Key(),
			"text_a":     record.Serialize(a, nil),
			"text_b":     record.Serialize(b, nil),
			"score":      mr.Prediction.SimilarityScore,
			"confidence": string(mr.Prediction.Confidence),
		})
	}
	return rows
}

func (r *Neo4jRepository) RecordBatch(ctx context.Context, run linkage.RunInfo, result *linkage.BatchMatchResult) error {
	rows := matchRows(result)
	if len(rows) == 0 {
		return nil
	}
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, mergeMatches, map[string]any{
			"rows":      rows,
			"run_id":    run.ID,
			"threshold": run.Threshold,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("store matches for run %s: %w", run.ID, err)
	}
	return nil
}

func (r *Neo4jRepository) Neighbors(ctx context.Context, recordID string, limit int) ([]graph.Edge, error) {
	if limit <= 0 {
		limit = 100
	}
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, queryNeighbors, map[string]any{"key": recordID, "limit": limit})
		if err != nil {
			return nil, err
		}
		edges := []graph.Edge{}
		for records.Next(ctx) {
			rec := records.Record()
			key, _ := rec.Get("key")
			text, _ := rec.Get("text")
			score, _ := rec.Get("score")
			conf, _ := rec.Get("confidence")
			runID, _ := rec.Get("run_id")
			edges = append(edges, graph.Edge{
				RecordID:   asString(key),
				Text:       asString(text),
				Score:      asFloat(score),
				Confidence: asString(conf),
				RunID:      asString(runID),
			})
		}
		return edges, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]graph.Edge), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

func (r *Neo4jRepository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graph.MatchGraph = (*Neo4jRepository)(nil)
