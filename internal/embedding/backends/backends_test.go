package backends

import (
	"strings"
	"testing"

	"github.com/efebarandurmaz/linkage/internal/embedding"
)

func TestNewFactory_RegistersAll(t *testing.T) {
	got := strings.Join(NewFactory(embedding.DefaultRemoteConfig()).Names(), ",")
	if got != "google,hash,onnx,openai" {
		t.Fatalf("unexpected backends %s", got)
	}
}
