// Package openai encodes texts through an OpenAI-compatible embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/efebarandurmaz/linkage/internal/embedding"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// Backend calls the embeddings endpoint once per chunk.
type Backend struct {
	client     *goopenai.Client
	model      string
	dimensions int
}

// New is the factory constructor for the "openai" backend.
func New(_ context.Context, cfg embedding.BackendConfig) (embedding.Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Backend{
		client:     goopenai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (b *Backend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	req := goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(b.model),
	}
	if b.dimensions > 0 {
		req.Dimensions = b.dimensions
	}
	rsp, err := b.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(rsp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(rsp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range rsp.Data {
		if d.Index < 0 || d.Index >= len(out) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("openai returned an invalid embedding at index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (b *Backend) Device() string { return embedding.DeviceRemote }

func (b *Backend) Close() error { return nil }

var _ embedding.Backend = (*Backend)(nil)
