package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is the persistence surface the registry drives. One row per document,
// keyed by filename.
type Store interface {
	Get(ctx context.Context, filename string) (*Document, error)
	Put(ctx context.Context, doc *Document) error
	SetStatus(ctx context.Context, filename string, status Status) error
	SetVectorized(ctx context.Context, filename string, vectorCount, pageCount, textLength int) error
	SetError(ctx context.Context, filename, stage, message string, partialCount int) error
	List(ctx context.Context) ([]Document, error)
	Delete(ctx context.Context, filename string) error
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (m *MemoryStore) Get(ctx context.Context, filename string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[filename]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (m *MemoryStore) Put(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Filename] = *doc
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, filename string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[filename]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	doc.FailedStage = ""
	doc.ErrorMessage = ""
	m.docs[filename] = doc
	return nil
}

func (m *MemoryStore) SetVectorized(ctx context.Context, filename string, vectorCount, pageCount, textLength int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[filename]
	if !ok {
		return ErrNotFound
	}
	now := nowUTC()
	doc.Status = StatusVectorized
	doc.VectorCount = vectorCount
	doc.PageCount = pageCount
	doc.TextLength = textLength
	doc.VectorizedAt = &now
	doc.FailedStage = ""
	doc.ErrorMessage = ""
	m.docs[filename] = doc
	return nil
}

func (m *MemoryStore) SetError(ctx context.Context, filename, stage, message string, partialCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[filename]
	if !ok {
		return ErrNotFound
	}
	doc.Status = StatusError
	doc.FailedStage = stage
	doc.ErrorMessage = message
	doc.VectorCount = partialCount
	m.docs[filename] = doc
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc)
	}
	// Most recent first, filename tiebreak for stable ordering.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return strings.Compare(out[i].Filename, out[j].Filename) < 0
	})
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[filename]; !ok {
		return ErrNotFound
	}
	delete(m.docs, filename)
	return nil
}
