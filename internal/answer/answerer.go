// Package answer implements retrieval-augmented question answering over the
// vector index.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bull/pdfrag-server/internal/vectorindex"
)

// ErrEmptyQuestion rejects questions and search queries with no content.
// Caller input error, never a backend failure.
var ErrEmptyQuestion = errors.New("question must not be empty")

const (
	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 4

	// DefaultContextBudget caps the prompt context in characters. Chunks
	// past the budget are dropped lowest-ranked first.
	DefaultContextBudget = 6000

	// NoContentAnswer is returned without calling the model when retrieval
	// finds nothing to ground an answer on.
	NoContentAnswer = "I could not find any relevant content in the uploaded documents to answer this question."

	snippetLength = 200
)

const systemPrompt = `You are a question answering assistant for a document collection.
Answer the question using ONLY the provided document excerpts.
If the excerpts do not contain the answer, say you cannot find it in the documents.
Be concise and cite which document the answer came from.`

// Embedder is the slice of the embedding service the answerer needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Source identifies one chunk that grounded the answer.
type Source struct {
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Snippet    string  `json:"snippet"`
	Score      float32 `json:"score"`
}

// Answer is the generated text plus the chunks that were actually in its
// prompt context. Chunks retrieved but dropped by the context budget are not
// listed as sources.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Answerer retrieves relevant chunks and generates a grounded answer.
type Answerer struct {
	embedder      Embedder
	index         vectorindex.Index
	completion    CompletionClient
	topK          int
	contextBudget int
	logger        *slog.Logger
}

// Config wires an Answerer. TopK defaults to DefaultTopK, ContextBudget to
// DefaultContextBudget.
type Config struct {
	Embedder      Embedder
	Index         vectorindex.Index
	Completion    CompletionClient
	TopK          int
	ContextBudget int
	Logger        *slog.Logger
}

// New creates an Answerer. Like the pipeline, it rejects an embedder/index
// dimension mismatch at construction.
func New(cfg Config) (*Answerer, error) {
	if cfg.Embedder.Dimension() != cfg.Index.Dimension() {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, index expects %d",
			vectorindex.ErrDimensionMismatch, cfg.Embedder.Dimension(), cfg.Index.Dimension())
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Answerer{
		embedder:      cfg.Embedder,
		index:         cfg.Index,
		completion:    cfg.Completion,
		topK:          cfg.TopK,
		contextBudget: cfg.ContextBudget,
		logger:        cfg.Logger,
	}, nil
}

// Ask answers a question from the indexed documents. A non-empty document
// restricts retrieval to that filename. When retrieval finds nothing the
// canned NoContentAnswer is returned and the model is never called.
func (a *Answerer) Ask(ctx context.Context, question, document string) (*Answer, error) {
	matches, err := a.retrieve(ctx, question, document)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		a.logger.Info("No grounding found", "question_length", len(question), "document", document)
		return &Answer{Text: NoContentAnswer, Sources: []Source{}}, nil
	}

	contextText, included := a.buildContext(matches)

	text, err := a.completion.Complete(ctx, systemPrompt,
		fmt.Sprintf("Document excerpts:\n\n%s\n\nQuestion: %s", contextText, question))
	if err != nil {
		return nil, err
	}

	sources := make([]Source, len(included))
	for i, m := range included {
		sources[i] = Source{
			Filename:   m.Document,
			ChunkIndex: m.ChunkIndex,
			Snippet:    snippet(m.Text),
			Score:      m.Score,
		}
	}

	a.logger.Info("Answered question", "matches", len(matches),
		"context_chunks", len(included), "answer_length", len(text))
	return &Answer{Text: text, Sources: sources}, nil
}

// Search returns the raw retrieval matches for a query as scored sources,
// without calling the model. A non-empty document restricts the search to that
// filename.
func (a *Answerer) Search(ctx context.Context, query, document string) ([]Source, error) {
	matches, err := a.retrieve(ctx, query, document)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{
			Filename:   m.Document,
			ChunkIndex: m.ChunkIndex,
			Snippet:    snippet(m.Text),
			Score:      m.Score,
		}
	}
	return sources, nil
}

// retrieve embeds the query and returns the topK nearest chunks.
func (a *Answerer) retrieve(ctx context.Context, query, document string) ([]vectorindex.Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuestion
	}

	vectors, err := a.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	var filter *vectorindex.Filter
	if document != "" {
		filter = &vectorindex.Filter{Document: document}
	}

	matches, err := a.index.Query(ctx, vectors[0], a.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	return matches, nil
}

// buildContext assembles excerpt blocks in rank order until the character
// budget is exhausted. The first block is always included even if it alone
// exceeds the budget, so a question never fails for lack of room.
func (a *Answerer) buildContext(matches []vectorindex.Match) (string, []vectorindex.Match) {
	var b strings.Builder
	var included []vectorindex.Match
	for _, m := range matches {
		block := fmt.Sprintf("Document: %s\nContent: %s", m.Document, m.Text)
		if len(included) > 0 && b.Len()+len(block)+2 > a.contextBudget {
			break
		}
		if len(included) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		included = append(included, m)
	}
	return b.String(), included
}

func snippet(text string) string {
	if len(text) <= snippetLength {
		return text
	}
	return text[:snippetLength] + "..."
}
