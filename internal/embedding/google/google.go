// Package google encodes texts with the Gemini embedding models.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/efebarandurmaz/linkage/internal/embedding"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-004"

type Backend struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

// New is the factory constructor for the "google" backend.
func New(ctx context.Context, cfg embedding.BackendConfig) (embedding.Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = DefaultModel
	}
	return &Backend{client: client, model: client.EmbeddingModel(name)}, nil
}

func (b *Backend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	batch := b.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	rsp, err := b.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if rsp == nil || len(rsp.Embeddings) != len(texts) {
		return nil, errors.New("no response from Google")
	}

	out := make([][]float32, len(texts))
	for i, e := range rsp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (b *Backend) Device() string { return embedding.DeviceRemote }

func (b *Backend) Close() error { return b.client.Close() }

var _ embedding.Backend = (*Backend)(nil)
