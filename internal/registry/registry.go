package registry

import (
	"context"
	"fmt"
	"sync"
)

// Registry guards the document state machine. It enforces single-flight per
// filename and validates every transition against the machine before the
// store is touched. Locks protect only the transition bookkeeping, never the
// store I/O itself.
type Registry struct {
	store Store

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Registry over the given store.
func New(store Store) *Registry {
	return &Registry{
		store:    store,
		inflight: make(map[string]struct{}),
	}
}

// claim takes the single-flight guard for a filename. The guard is held for
// the whole operation, not just a store write, so ingestion and deletion can
// never interleave on the same document.
func (r *Registry) claim(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[filename]; busy {
		return fmt.Errorf("%w: %s", ErrConcurrentIngestion, filename)
	}
	r.inflight[filename] = struct{}{}
	return nil
}

// Begin claims the filename for a new ingestion attempt and resets its row to
// uploaded. A filename with an attempt already in flight gets
// ErrConcurrentIngestion; a terminal row (vectorized or error) is restarted.
// On success the caller must End the attempt, normally via defer.
func (r *Registry) Begin(ctx context.Context, filename string, size int64) (*Document, error) {
	if err := r.claim(filename); err != nil {
		return nil, err
	}

	doc := &Document{
		Filename:   filename,
		Size:       size,
		UploadedAt: nowUTC(),
		Status:     StatusUploaded,
	}
	if err := r.store.Put(ctx, doc); err != nil {
		r.End(filename)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}
	return doc, nil
}

// End releases the single-flight claim for a filename.
func (r *Registry) End(filename string) {
	r.mu.Lock()
	delete(r.inflight, filename)
	r.mu.Unlock()
}

// Advance moves the document to the next stage. The transition is persisted
// before the stage's work begins, so a crash mid-stage shows up as stuck in
// that stage rather than silently lost.
func (r *Registry) Advance(ctx context.Context, filename string, next Status) error {
	doc, err := r.store.Get(ctx, filename)
	if err != nil {
		return err
	}
	if transitions[doc.Status] != next {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, next)
	}
	return r.store.SetStatus(ctx, filename, next)
}

// Complete marks the document vectorized with its final counts.
func (r *Registry) Complete(ctx context.Context, filename string, vectorCount, pageCount, textLength int) error {
	doc, err := r.store.Get(ctx, filename)
	if err != nil {
		return err
	}
	if doc.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, StatusVectorized)
	}
	return r.store.SetVectorized(ctx, filename, vectorCount, pageCount, textLength)
}

// Fail records an error from any non-terminal state, preserving the failing
// stage and any partial vector count for diagnosis.
func (r *Registry) Fail(ctx context.Context, filename, stage, message string, partialCount int) error {
	doc, err := r.store.Get(ctx, filename)
	if err != nil {
		return err
	}
	if doc.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, StatusError)
	}
	return r.store.SetError(ctx, filename, stage, message, partialCount)
}

// Get returns a single document row.
func (r *Registry) Get(ctx context.Context, filename string) (*Document, error) {
	return r.store.Get(ctx, filename)
}

// List returns all document rows, most recent upload first.
func (r *Registry) List(ctx context.Context) ([]Document, error) {
	return r.store.List(ctx)
}

// Delete removes a document row, holding the single-flight guard for the whole
// removal so it cannot interleave with an ingestion attempt. The optional
// cleanup runs under the guard before the row is deleted; used by the pipeline
// to drop the document's vectors. If the row is missing or an attempt is in
// flight, nothing is touched.
func (r *Registry) Delete(ctx context.Context, filename string, cleanup func(context.Context) error) error {
	if err := r.claim(filename); err != nil {
		return err
	}
	defer r.End(filename)

	if _, err := r.store.Get(ctx, filename); err != nil {
		return err
	}
	if cleanup != nil {
		if err := cleanup(ctx); err != nil {
			return err
		}
	}
	return r.store.Delete(ctx, filename)
}

// Statistics aggregates counts per status and total storage use.
func (r *Registry) Statistics(ctx context.Context) (*Stats, error) {
	docs, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalDocuments: len(docs)}
	var totalBytes int64
	for _, doc := range docs {
		totalBytes += doc.Size
		switch doc.Status {
		case StatusUploaded:
			stats.Uploaded++
		case StatusVectorized:
			stats.Vectorized++
		case StatusError:
			stats.Error++
		default:
			stats.Processing++
		}
	}
	stats.TotalSizeMB = float64(totalBytes) / (1 << 20)
	return stats, nil
}
