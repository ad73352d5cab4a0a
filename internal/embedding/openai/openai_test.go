package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/efebarandurmaz/linkage/internal/embedding"
)

func TestEncode_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("expected default model, got %q", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		// Reverse order to check that the index is honoured.
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	b, err := New(context.Background(), embedding.BackendConfig{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := b.Encode(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors out of order: %v", vecs)
	}
	if b.Device() != embedding.DeviceRemote {
		t.Fatalf("unexpected device %s", b.Device())
	}
}

func TestEncode_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	b, err := New(context.Background(), embedding.BackendConfig{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Encode(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error for missing embeddings")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(context.Background(), embedding.BackendConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
