// Package vector indexes serialized records by embedding so that candidate
// matches for a query record can be found without a full cross product.
package vector

import "context"

// Document is one indexed record with its embedding.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Vector   []float32         `json:"-"`
	Metadata map[string]string `json:"metadata"`
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Repository provides vector storage and similarity search.
type Repository interface {
	// Upsert inserts or updates documents.
	Upsert(ctx context.Context, docs []Document) error
	// Search finds the top-k most similar documents.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	// Close releases resources.
	Close() error
}

// Pinger is implemented by repositories backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
