// Package embedding maps text to fixed-dimension vectors via OpenAI.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the requested vector dimension. The model natively
	// produces 1536 dimensions; the API truncates to the requested size, which
	// here matches the deployment's 384-dim vector index.
	DefaultDimension = 384

	// DefaultBatchSize bounds texts per request to keep token pressure low.
	DefaultBatchSize = 100

	// DefaultRPS limits embedding requests per second to the backend.
	DefaultRPS = 5
)

// ErrEmbedding indicates an embedding backend failure. Transient rate limits
// are retried internally with backoff; what surfaces here exhausted retries.
var ErrEmbedding = errors.New("embedding generation failed")

// Embedder generates order-preserving batches of fixed-dimension embeddings.
// A single query string takes the same path as a batch of one.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
	limiter   *rate.Limiter
}

// Options tune the embedder. Zero values fall back to package defaults.
type Options struct {
	Model     string
	Dimension int
	BatchSize int
	RPS       float64
}

// NewEmbedder creates an Embedder with the given client and options.
func NewEmbedder(client *Client, opts Options) *Embedder {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RPS <= 0 {
		opts.RPS = DefaultRPS
	}
	return &Embedder{
		client:    client,
		model:     opts.Model,
		dimension: opts.Dimension,
		batchSize: opts.BatchSize,
		limiter:   rate.NewLimiter(rate.Limit(opts.RPS), 1),
	}
}

// Dimension returns the vector size every embedding from this Embedder has.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns one vector per input text, preserving input order.
// The empty string embeds as a single space so the contract stays total.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := make([]string, end-i)
		for j, t := range texts[i:end] {
			if t == "" {
				t = " " // the API rejects empty input
			}
			batch[j] = t
		}

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %v", ErrEmbedding, i, end, err)
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

// embedBatchWithRetry generates embeddings for one batch, retrying with
// exponential backoff on rate limit errors (HTTP 429). Other errors are
// permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: openai.Int(int64(e.dimension)),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // will retry with backoff
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("got %d embeddings for %d inputs",
				len(resp.Data), len(texts)))
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32 to match index storage.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
