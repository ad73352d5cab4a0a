package vector

import (
	"context"
	"sort"
	"sync"

	"github.com/efebarandurmaz/linkage/internal/embedding"
)

// MemoryRepository keeps documents in process and searches by brute force
// cosine similarity.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemory() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]Document)}
}

func (r *MemoryRepository) Upsert(_ context.Context, docs []Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return nil
}

func (r *MemoryRepository) Search(ctx context.Context, vec []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	r.mu.RLock()
	results := make([]SearchResult, 0, len(r.docs))
	for _, d := range r.docs {
		results = append(results, SearchResult{
			ID:       d.ID,
			Score:    float32(embedding.Cosine(vec, d.Vector)),
			Content:  d.Content,
			Metadata: d.Metadata,
		})
	}
	r.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the number of stored documents.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func (r *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
