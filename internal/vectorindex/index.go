// Package vectorindex mediates access to the vector database holding chunk
// embeddings. The Index interface keeps pipeline and retrieval logic
// independent of any specific backend's client shape.
package vectorindex

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrIndexUnavailable indicates backend connectivity loss. Callers must
	// treat this as retryable, not fatal to a document's overall state unless
	// retries exhaust.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrDimensionMismatch indicates a vector whose dimension does not match
	// the index. This is a configuration error, never a retry target.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Record is one chunk's embedding plus the metadata that survives indexing.
type Record struct {
	ChunkIndex int
	Text       string
	Embedding  []float32
}

// Match is a query result ordered by descending cosine similarity.
type Match struct {
	Document   string
	ChunkIndex int
	Text       string
	Score      float32
}

// Filter optionally restricts a query to a single document.
type Filter struct {
	Document string
}

// Index is the capability surface the pipeline and answerer depend on.
// Upsert is idempotent per (document, chunk index); Delete removes every
// vector belonging to a document.
type Index interface {
	Upsert(ctx context.Context, document string, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Match, error)
	Delete(ctx context.Context, document string) error
	Dimension() int
}

// sortMatches orders matches by descending score, breaking ties by ascending
// chunk index so equal-similarity results are deterministic.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})
}
