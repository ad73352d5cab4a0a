// Package backends wires every embedding backend into one factory.
package backends

import (
	"github.com/efebarandurmaz/linkage/internal/embedding"
	"github.com/efebarandurmaz/linkage/internal/embedding/google"
	"github.com/efebarandurmaz/linkage/internal/embedding/onnx"
	"github.com/efebarandurmaz/linkage/internal/embedding/openai"
)

// NewFactory returns a factory with the hash, onnx, openai and google
// backends registered. Remote backends are wrapped with retries and pacing.
func NewFactory(remote embedding.RemoteConfig) *embedding.Factory {
	f := embedding.NewFactory()
	f.Register("hash", embedding.NewHash)
	f.Register("onnx", onnx.New)
	f.Register("openai", embedding.Remote(openai.New, remote))
	f.Register("google", embedding.Remote(google.New, remote))
	return f
}
