package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkage.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_Defaults(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, writeConfig(t, "log:\n  level: error\n"), Options{Sinks: true, Vectors: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)

	if a.Model == nil || a.Matcher == nil || a.Catalog == nil {
		t.Fatal("core services missing")
	}
	if a.Model.Loaded() {
		t.Error("model should load lazily")
	}
	if a.Store != nil || a.Graph != nil || a.Indexer != nil {
		t.Error("unconfigured backends should stay nil")
	}
	if got := a.Matcher.Threshold(); got != 0.75 {
		t.Errorf("threshold = %v, want 0.75", got)
	}
}

func TestNew_StoreAndMemoryIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := writeConfig(t, "log:\n  level: error\nstore:\n  path: "+filepath.Join(dir, "runs.db")+
		"\nvector:\n  backend: memory\nmatching:\n  threshold: 0.6\n")

	a, err := New(ctx, cfg, Options{Sinks: true, Vectors: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store == nil {
		t.Fatal("store should be open")
	}
	if a.Indexer == nil || a.Vectors == nil {
		t.Fatal("memory index should be open")
	}
	if got := a.Matcher.Threshold(); got != 0.6 {
		t.Errorf("threshold = %v, want 0.6", got)
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "runs.db")); err != nil {
		t.Errorf("store file missing: %v", err)
	}
}

func TestNew_SinksNotRequested(t *testing.T) {
	ctx := context.Background()
	cfg := writeConfig(t, "log:\n  level: error\nstore:\n  path: "+filepath.Join(t.TempDir(), "runs.db")+"\n")
	a, err := New(ctx, cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)
	if a.Store != nil {
		t.Error("store opened without Sinks")
	}
}

func TestNew_UnknownVectorBackend(t *testing.T) {
	cfg := writeConfig(t, "log:\n  level: error\nvector:\n  backend: faiss\n")
	if _, err := New(context.Background(), cfg, Options{Vectors: true}); err == nil {
		t.Fatal("expected error for unknown vector backend")
	}
}

func TestLoadRecords(t *testing.T) {
	ctx := context.Background()
	raw := t.TempDir()
	csv := "title,year\nGo at scale,2012\nRecord linkage,1969\n"
	if err := os.WriteFile(filepath.Join(raw, "dblp_acm.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(file, []byte("name\nAnn\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(ctx, writeConfig(t, "log:\n  level: error\ndata:\n  raw_dir: "+raw+"\n"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	recs, err := a.LoadRecords("DBLP-ACM")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("catalog records = %d, want 2", len(recs))
	}

	recs, err = a.LoadRecords(file)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if len(recs) != 1 || recs[0].Fields["name"] != "Ann" {
		t.Errorf("file records = %+v", recs)
	}

	if _, err := a.LoadRecords("missing"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestNew_ResolvesSecretsFromFile(t *testing.T) {
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.json")
	if err := os.WriteFile(secretsPath, []byte(`{"vector_dsn":"postgres://linkage@db/linkage","graph_password":"pw"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, "log:\n  level: error\ngraph:\n  password: explicit\nsecrets:\n  provider: file\n  file: "+secretsPath+"\n")

	ctx := context.Background()
	a, err := New(ctx, cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	if a.Config.Vector.DSN != "postgres://linkage@db/linkage" {
		t.Errorf("dsn = %q", a.Config.Vector.DSN)
	}
	if a.Config.Graph.Password != "explicit" {
		t.Errorf("configured password overwritten: %q", a.Config.Graph.Password)
	}
}

func TestNew_MissingSecretsFile(t *testing.T) {
	cfg := writeConfig(t, "log:\n  level: error\nsecrets:\n  provider: file\n  file: "+filepath.Join(t.TempDir(), "none.json")+"\n")
	if _, err := New(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("expected error for missing secrets file")
	}
}
