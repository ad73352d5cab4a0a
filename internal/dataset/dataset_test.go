package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = "title,authors,year\n" +
	"Deep Matching,\"Li, Wang\",2020\n" +
	"Entity Resolution,Smith,\n" +
	"BERT for ER,Doe,2019\n"

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"DBLP-ACM":           "dblp_acm",
		"walmart amazon":     "walmart_amazon",
		" UCI ":              "uci",
		"dblp-scholar dirty": "dblp_scholar_dirty",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadCSV(t *testing.T) {
	recs, header, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if len(header) != 3 || header[1] != "authors" {
		t.Fatalf("unexpected header %v", header)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].ID != "0" || recs[2].ID != "2" {
		t.Fatal("IDs should be row indexes")
	}
	if recs[0].Fields["authors"] != "Li, Wang" {
		t.Fatalf("quoted field not parsed: %q", recs[0].Fields["authors"])
	}
	if v, ok := recs[1].Fields["year"]; !ok || v != "" {
		t.Fatal("empty cells should be kept as empty strings")
	}
}

func TestReadCSV_Empty(t *testing.T) {
	if _, _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty csv")
	}
}

func TestReadJSON(t *testing.T) {
	body := `[
		{"id": "r1", "fields": {"name": "John", "age": 45}},
		{"name": "Jane", "active": true, "score": null}
	]`
	recs, err := ReadJSON(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].ID != "r1" || recs[0].Fields["age"] != "45" {
		t.Fatalf("unexpected first record %+v", recs[0])
	}
	if recs[1].ID != "1" || recs[1].Fields["active"] != "true" || recs[1].Fields["score"] != "" {
		t.Fatalf("unexpected flat record %+v", recs[1])
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "a.csv", sampleCSV)
	recs, err := LoadFile(csvPath)
	if err != nil || len(recs) != 3 {
		t.Fatalf("csv load: %v (%d records)", err, len(recs))
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.csv")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	txt := writeFile(t, dir, "a.txt", "x")
	if _, err := LoadFile(txt); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestCatalog_List(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dblp_acm.csv", sampleCSV)

	list := NewCatalog(dir).List()
	if len(list) != 4 {
		t.Fatalf("expected 4 datasets, got %d", len(list))
	}
	for _, info := range list {
		switch info.Key {
		case "dblp_acm":
			if info.NumRecords != 3 || len(info.Fields) != 3 {
				t.Errorf("dblp_acm: %+v", info)
			}
		default:
			if info.NumRecords != 0 || info.Fields == nil {
				t.Errorf("%s should be listed empty: %+v", info.Key, info)
			}
		}
	}
}

func TestCatalog_Info(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dblp_acm.csv", sampleCSV)
	c := NewCatalog(dir)

	info, err := c.Info("DBLP-ACM", 2)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "DBLP-ACM" || info.NumRecords != 3 || len(info.SampleRecords) != 2 {
		t.Fatalf("unexpected info %+v", info)
	}

	info, err = c.Info("dblp_acm", 0)
	if err != nil {
		t.Fatal(err)
	}
	if info.SampleRecords != nil {
		t.Fatal("samples should be omitted")
	}

	if _, err := c.Info("imdb", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown dataset: expected ErrNotFound, got %v", err)
	}
	if _, err := c.Info("uci", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing file: expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "walmart_amazon.csv", sampleCSV)
	recs, err := NewCatalog(dir).Load("Walmart-Amazon")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}
