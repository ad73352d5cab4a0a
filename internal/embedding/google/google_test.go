package google

import (
	"context"
	"testing"

	"github.com/efebarandurmaz/linkage/internal/embedding"
)

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(context.Background(), embedding.BackendConfig{Backend: "google"}); err == nil {
		t.Fatal("expected error without api key")
	}
}
