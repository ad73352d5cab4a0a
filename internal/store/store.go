// Package store keeps the history of batch runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	_ "modernc.org/sqlite"

	"github.com/efebarandurmaz/linkage/internal/classify"
	"github.com/efebarandurmaz/linkage/internal/explain"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// DefaultListLimit bounds ListRuns when no limit is given.
const DefaultListLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	threshold         REAL NOT NULL,
	started_at        TEXT NOT NULL,
	size_a            INTEGER NOT NULL,
	size_b            INTEGER NOT NULL,
	total_comparisons INTEGER NOT NULL,
	matches_found     INTEGER NOT NULL,
	processing_time   REAL NOT NULL,
	truncated         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_matches (
	run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	record_a         TEXT NOT NULL,
	record_b         TEXT NOT NULL,
	similarity_score REAL NOT NULL,
	explanation      TEXT,
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

var (
	driverOnce sync.Once
	driverName string
	driverErr  error
)

func registerDriver() (string, error) {
	driverOnce.Do(func() {
		driverName, driverErr = otelsql.Register("sqlite",
			otelsql.TraceQueryWithoutArgs(),
			otelsql.TraceRowsClose(),
			otelsql.TraceRowsAffected(),
			otelsql.WithSystem(semconv.DBSystemSqlite),
		)
	})
	return driverName, driverErr
}

// Run is one stored batch run.
type Run struct {
	ID               string    `json:"id"`
	Threshold        float64   `json:"threshold"`
	StartedAt        time.Time `json:"started_at"`
	SizeA            int       `json:"size_a"`
	SizeB            int       `json:"size_b"`
	TotalComparisons int       `json:"total_comparisons"`
	MatchesFound     int       `json:"matches_found"`
	ProcessingTime   float64   `json:"processing_time"`
	Truncated        bool      `json:"truncated"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	driver, err := registerDriver()
	if err != nil {
		return nil, fmt.Errorf("register sqlite driver: %w", err)
	}
	db, err := sql.Open(driver, path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := otelsql.RecordStats(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("record db stats: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordBatch stores a finished run and its matches in one transaction.
func (s *Store) RecordBatch(ctx context.Context, run linkage.RunInfo, result *linkage.BatchMatchResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, threshold, started_at, size_a, size_b, total_comparisons, matches_found, processing_time, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Threshold, run.StartedAt.UTC().Format(time.RFC3339Nano), run.SizeA, run.SizeB,
		result.TotalComparisons, result.MatchesFound, result.ProcessingTime, result.Truncated)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_matches
		(run_id, position, record_a, record_b, similarity_score, explanation)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare match insert: %w", err)
	}
	defer stmt.Close()

	for i, mr := range result.MatchResults {
		a, err := json.Marshal(mr.RecordPair.RecordA)
		if err != nil {
			return err
		}
		b, err := json.Marshal(mr.RecordPair.RecordB)
		if err != nil {
			return err
		}
		var exp sql.NullString
		if mr.Explanation != nil {
			data, err := json.Marshal(mr.Explanation)
			if err != nil {
				return err
			}
			exp = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, string(a), string(b), mr.Prediction.SimilarityScore, exp); err != nil {
			return fmt.Errorf("insert match %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, threshold, started_at, size_a, size_b, total_comparisons, matches_found, processing_time, truncated`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r       Run
		started string
	)
	if err := row.Scan(&r.ID, &r.Threshold, &started, &r.SizeA, &r.SizeB,
		&r.TotalComparisons, &r.MatchesFound, &r.ProcessingTime, &r.Truncated); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	r.StartedAt = t
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// RunMatches returns the stored matches of a run in their original order.
// Predictions are rebuilt from the stored score and the run threshold.
func (s *Store) RunMatches(ctx context.Context, id string) ([]linkage.MatchResult, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT record_a, record_b, similarity_score, explanation
		FROM run_matches WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	out := []linkage.MatchResult{}
	for rows.Next() {
		var (
			a, b  string
			score float64
			exp   sql.NullString
		)
		if err := rows.Scan(&a, &b, &score, &exp); err != nil {
			return nil, err
		}
		var pair record.Pair
		if err := json.Unmarshal([]byte(a), &pair.RecordA); err != nil {
			return nil, fmt.Errorf("decode record_a: %w", err)
		}
		if err := json.Unmarshal([]byte(b), &pair.RecordB); err != nil {
			return nil, fmt.Errorf("decode record_b: %w", err)
		}
		mr := linkage.MatchResult{
			Prediction: classify.Classify(score, run.Threshold),
			RecordPair: pair,
		}
		if exp.Valid {
			mr.Explanation = &explain.Explanation{}
			if err := json.Unmarshal([]byte(exp.String), mr.Explanation); err != nil {
				return nil, fmt.Errorf("decode explanation: %w", err)
			}
		}
		out = append(out, mr)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ linkage.ResultSink = (*Store)(nil)
