package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MemoryIndex is an in-process Index using brute-force cosine similarity.
// It backs tests and small single-node deployments that run without Qdrant.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]map[int]Record // document -> chunk index -> record
}

// NewMemoryIndex creates an empty in-memory index with a fixed dimension.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		docs:      make(map[string]map[int]Record),
	}
}

// Dimension returns the fixed vector dimension of the index.
func (m *MemoryIndex) Dimension() int {
	return m.dimension
}

// Upsert stores records keyed by (document, chunk index), overwriting any
// existing entry for the same key.
func (m *MemoryIndex) Upsert(ctx context.Context, document string, records []Record) error {
	for i, rec := range records {
		if len(rec.Embedding) != m.dimension {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(rec.Embedding), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chunks, ok := m.docs[document]
	if !ok {
		chunks = make(map[int]Record, len(records))
		m.docs[document] = chunks
	}
	for _, rec := range records {
		chunks[rec.ChunkIndex] = rec
	}
	return nil
}

// Query scans all stored vectors and returns the topK nearest by cosine
// similarity, ties broken by ascending chunk index.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Match, error) {
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), m.dimension)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for document, chunks := range m.docs {
		if filter != nil && filter.Document != "" && filter.Document != document {
			continue
		}
		for _, rec := range chunks {
			matches = append(matches, Match{
				Document:   document,
				ChunkIndex: rec.ChunkIndex,
				Text:       rec.Text,
				Score:      cosine(vector, rec.Embedding),
			})
		}
	}

	sortMatches(matches)
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes every vector belonging to a document.
func (m *MemoryIndex) Delete(ctx context.Context, document string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, document)
	return nil
}

// Count returns the number of vectors stored for a document.
func (m *MemoryIndex) Count(document string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[document])
}

// cosine computes cosine similarity without assuming normalized inputs.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
