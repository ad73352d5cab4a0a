package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/efebarandurmaz/linkage/internal/vector"
)

func TestOpen_RejectsBadTableName(t *testing.T) {
	for _, name := range []string{"", "Records", "records; DROP TABLE x", "1abc"} {
		if _, err := Open(context.Background(), "postgres://localhost/none", name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestRegisterDriver_Once(t *testing.T) {
	a, err := registerDriver()
	if err != nil {
		t.Fatal(err)
	}
	b, err := registerDriver()
	if err != nil || a != b {
		t.Fatalf("expected the same driver name, got %q and %q (%v)", a, b, err)
	}
}

// TestRepository_RoundTrip needs a PostgreSQL with pgvector; set
// LINKAGE_TEST_PG_DSN to run it.
func TestRepository_RoundTrip(t *testing.T) {
	dsn := os.Getenv("LINKAGE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LINKAGE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	repo, err := Open(ctx, dsn, "linkage_test_records")
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx, 2); err != nil {
		t.Fatal(err)
	}
	err = repo.Upsert(ctx, []vector.Document{
		{ID: "a", Content: "x", Vector: []float32{1, 0}, Metadata: map[string]string{"record_id": "a"}},
		{ID: "b", Content: "y", Vector: []float32{0, 1}, Metadata: map[string]string{"record_id": "b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := repo.Search(ctx, []float32{1, 0.1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "a" || res[0].Metadata["record_id"] != "a" {
		t.Fatalf("unexpected results %+v", res)
	}
}
