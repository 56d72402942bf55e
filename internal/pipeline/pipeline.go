// Package pipeline drives the full ingestion sequence: extract, chunk, embed,
// upsert, under the document registry's transition guard.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/pdfrag-server/internal/chunker"
	"github.com/bull/pdfrag-server/internal/extractor"
	"github.com/bull/pdfrag-server/internal/registry"
	"github.com/bull/pdfrag-server/internal/vectorindex"
)

// DefaultStageTimeout bounds each external call independently.
const DefaultStageTimeout = 60 * time.Second

// Embedder is the slice of the embedding service the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ExtractFunc turns raw PDF bytes into text. Defaults to extractor.Extract.
type ExtractFunc func(raw []byte) (*extractor.Result, error)

// Result summarizes a completed ingestion attempt.
type Result struct {
	Filename    string
	VectorCount int
	PageCount   int
	TextLength  int
	Duration    time.Duration
}

// Pipeline composes the ingestion stages. Multiple filenames ingest in
// parallel, bounded by a semaphore around the embedding stage; the registry's
// single-flight rule keeps each filename to one attempt at a time.
type Pipeline struct {
	extract      ExtractFunc
	chunker      *chunker.Chunker
	embedder     Embedder
	index        vectorindex.Index
	registry     *registry.Registry
	logger       *slog.Logger
	stageTimeout time.Duration
	embedSlots   chan struct{}
}

// Config wires a Pipeline. Extract defaults to extractor.Extract,
// StageTimeout to DefaultStageTimeout, Concurrency to 4.
type Config struct {
	Extract      ExtractFunc
	Chunker      *chunker.Chunker
	Embedder     Embedder
	Index        vectorindex.Index
	Registry     *registry.Registry
	Logger       *slog.Logger
	StageTimeout time.Duration
	Concurrency  int
}

// New creates an ingestion pipeline. It fails fast on an embedder/index
// dimension mismatch, since that is a deployment configuration error no
// request could ever recover from.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Embedder.Dimension() != cfg.Index.Dimension() {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, index expects %d",
			vectorindex.ErrDimensionMismatch, cfg.Embedder.Dimension(), cfg.Index.Dimension())
	}
	if cfg.Extract == nil {
		cfg.Extract = extractor.Extract
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Pipeline{
		extract:      cfg.Extract,
		chunker:      cfg.Chunker,
		embedder:     cfg.Embedder,
		index:        cfg.Index,
		registry:     cfg.Registry,
		logger:       cfg.Logger,
		stageTimeout: cfg.StageTimeout,
		embedSlots:   make(chan struct{}, cfg.Concurrency),
	}, nil
}

// Ingest processes one uploaded document end to end. On any stage error the
// document's partially written vectors are deleted before the error status is
// recorded, so a partial index is never queryable.
func (p *Pipeline) Ingest(ctx context.Context, filename string, raw []byte) (*Result, error) {
	start := time.Now()

	if _, err := p.registry.Begin(ctx, filename, int64(len(raw))); err != nil {
		return nil, err
	}
	defer p.registry.End(filename)

	// Re-upload path: drop any vectors from a previous attempt so stale
	// chunks can never mix with the new ones.
	if err := p.deleteVectors(filename); err != nil {
		return nil, p.fail(ctx, filename, "cleanup", err, 0)
	}

	// Extract.
	if err := p.registry.Advance(ctx, filename, registry.StatusExtracting); err != nil {
		return nil, err
	}
	extracted, err := p.runExtract(ctx, raw)
	if err != nil {
		return nil, p.fail(ctx, filename, "extracting", err, 0)
	}
	p.logger.Debug("Extracted document", "filename", filename,
		"pages", extracted.PageCount, "chars", extracted.CharCount)

	// Chunk.
	if err := p.registry.Advance(ctx, filename, registry.StatusChunking); err != nil {
		return nil, err
	}
	chunks := p.chunker.Split(extracted.Text)
	p.logger.Debug("Chunked document", "filename", filename, "chunks", len(chunks))

	// Embed and upsert.
	if err := p.registry.Advance(ctx, filename, registry.StatusEmbedding); err != nil {
		return nil, err
	}
	if err := p.embedAndUpsert(ctx, filename, chunks); err != nil {
		return nil, p.fail(ctx, filename, "embedding", err, 0)
	}

	if err := p.registry.Complete(ctx, filename, len(chunks), extracted.PageCount, extracted.CharCount); err != nil {
		return nil, err
	}

	result := &Result{
		Filename:    filename,
		VectorCount: len(chunks),
		PageCount:   extracted.PageCount,
		TextLength:  extracted.CharCount,
		Duration:    time.Since(start),
	}
	p.logger.Info("Ingested document", "filename", filename,
		"vectors", result.VectorCount, "duration", result.Duration)
	return result, nil
}

// runExtract runs extraction under the stage timeout. Extraction itself is a
// pure function; the timeout guards against pathological inputs.
func (p *Pipeline) runExtract(ctx context.Context, raw []byte) (*extractor.Result, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	type outcome struct {
		result *extractor.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := p.extract(raw)
		done <- outcome{result, err}
	}()

	select {
	case <-stageCtx.Done():
		return nil, stageCtx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

// embedAndUpsert embeds all chunks and writes them to the vector index, with
// the embedding backend shielded by the concurrency semaphore.
func (p *Pipeline) embedAndUpsert(ctx context.Context, filename string, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	select {
	case p.embedSlots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.embedSlots }()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	embeddings, err := p.embedder.Embed(embedCtx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	records := make([]vectorindex.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorindex.Record{
			ChunkIndex: c.Index,
			Text:       c.Text,
			Embedding:  embeddings[i],
		}
	}

	upsertCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	return p.index.Upsert(upsertCtx, filename, records)
}

// fail runs the compensating delete and records the error state. It uses a
// context detached from the request so cancellation still leaves the document
// row and the index consistent.
func (p *Pipeline) fail(ctx context.Context, filename, stage string, cause error, partialCount int) error {
	message := cause.Error()
	if ctx.Err() != nil {
		message = fmt.Sprintf("cancelled: %s", message)
	}

	if err := p.deleteVectors(filename); err != nil {
		p.logger.Warn("Compensating delete failed", "filename", filename, "error", err)
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.stageTimeout)
	defer cancel()
	if err := p.registry.Fail(cleanupCtx, filename, stage, message, partialCount); err != nil {
		p.logger.Warn("Failed to record error status", "filename", filename, "error", err)
	}

	p.logger.Warn("Ingestion failed", "filename", filename, "stage", stage, "error", cause)
	return fmt.Errorf("%s: %w", stage, cause)
}

// deleteVectors removes every vector for a document under its own timeout,
// independent of the caller's cancellation.
func (p *Pipeline) deleteVectors(filename string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.stageTimeout)
	defer cancel()
	return p.index.Delete(ctx, filename)
}

// Remove deletes a document everywhere the pipeline wrote it. The registry's
// single-flight guard is claimed before the index is touched, so a removal
// racing an in-flight ingestion is rejected without having deleted any
// vectors, and a vectorized row can never be left pointing at an empty index.
func (p *Pipeline) Remove(ctx context.Context, filename string) error {
	return p.registry.Delete(ctx, filename, func(ctx context.Context) error {
		return p.index.Delete(ctx, filename)
	})
}
