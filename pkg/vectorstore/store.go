package vectorstore

import (
	"context"
)

// QueryResult holds parallel slices: entry i of each slice describes the i-th
// nearest match.
type QueryResult struct {
	IDs       []string            `json:"ids"`
	Documents []string            `json:"documents"`
	Metadatas []map[string]string `json:"metadatas"`
	Distances []float64           `json:"distances"`
}

// Store is the vector index consumed by the RAG tool and the workflow's
// permanent memory. Implementations must be safe for concurrent use.
type Store interface {
	Initialize(ctx context.Context) error
	// AddDocuments upserts documents under the given ids. Re-adding an
	// existing id is a no-op, which makes ingestion idempotent.
	AddDocuments(ctx context.Context, docs, ids []string, metadatas []map[string]string) error
	// Query returns the top-k nearest documents, optionally restricted to
	// entries whose metadata contains every key/value pair in filter.
	Query(ctx context.Context, text string, topK int, filter map[string]string) (*QueryResult, error)
	Count(ctx context.Context) (int, error)
	GetSample(ctx context.Context, limit int) (*QueryResult, error)
	Delete(ctx context.Context, ids []string) error
}

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	Embed(text string) []float32
	Dimension() int
}
