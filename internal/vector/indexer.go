package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/linkage/internal/record"
)

// Metadata keys written for every indexed record.
const (
	MetaRecordID    = "record_id"
	MetaSource      = "source"
	fieldMetaPrefix = "field."
)

var pointNamespace = uuid.MustParse("9c4d3e0a-5b1f-4f0e-8a43-2f7c6d1b8e51")

// Encoder embeds texts. *embedding.Model satisfies it.
type Encoder interface {
	Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Candidate is a stored record returned by a similarity search.
type Candidate struct {
	Record record.Record `json:"record"`
	Source string        `json:"source,omitempty"`
	Score  float32       `json:"score"`
}

// Indexer embeds records into a Repository and finds candidates for a
// query record.
type Indexer struct {
	encoder Encoder
	repo    Repository
}

// NewIndexer creates an Indexer.
func NewIndexer(encoder Encoder, repo Repository) *Indexer {
	return &Indexer{encoder: encoder, repo: repo}
}

// PointID maps a record key to the UUID used as the document ID.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// IndexRecords embeds and upserts records, tagging each with source.
func (ix *Indexer) IndexRecords(ctx context.Context, recs []record.Record, source string) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	texts := make([]string, len(recs))
	for i, r := range recs {
		texts[i] = record.Serialize(r, nil)
	}
	vectors, err := ix.encoder.Encode(ctx, texts, 0)
	if err != nil {
		return 0, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	docs := make([]Document, len(recs))
	for i, r := range recs {
		key := r.Key()
		meta := map[string]string{MetaRecordID: key, MetaSource: source}
		for name, v := range r.Fields {
			meta[fieldMetaPrefix+name] = v
		}
		docs[i] = Document{
			ID:       PointID(key),
			Content:  texts[i],
			Vector:   vectors[i],
			Metadata: meta,
		}
	}
	if err := ix.repo.Upsert(ctx, docs); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(docs), nil
}

// Search returns the topK stored records closest to r.
func (ix *Indexer) Search(ctx context.Context, r record.Record, topK int) ([]Candidate, error) {
	vecs, err := ix.encoder.Encode(ctx, []string{record.Serialize(r, nil)}, 1)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	results, err := ix.repo.Search(ctx, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]Candidate, len(results))
	for i, res := range results {
		out[i] = Candidate{
			Record: recordFromMetadata(res.Metadata),
			Source: res.Metadata[MetaSource],
			Score:  res.Score,
		}
	}
	return out, nil
}

func recordFromMetadata(meta map[string]string) record.Record {
	fields := make(map[string]string)
	for k, v := range meta {
		if name, ok := strings.CutPrefix(k, fieldMetaPrefix); ok {
			fields[name] = v
		}
	}
	return record.Record{ID: meta[MetaRecordID], Fields: fields}
}
