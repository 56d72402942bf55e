// Package main provides the ragctl CLI for managing the PDF document index
// from the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/pdfrag-server/internal/answer"
	"github.com/bull/pdfrag-server/internal/chunker"
	"github.com/bull/pdfrag-server/internal/config"
	"github.com/bull/pdfrag-server/internal/embedding"
	"github.com/bull/pdfrag-server/internal/pipeline"
	"github.com/bull/pdfrag-server/internal/registry"
	"github.com/bull/pdfrag-server/internal/vectorindex"
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "PDF document index management tool",
	Long:  "CLI tool for ingesting PDFs, asking questions, and inspecting document status",
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Extract, chunk, embed, and index a PDF",
	Long: `Runs the full ingestion pipeline for a local PDF file.

Environment variables:
  MONGO_URI       MongoDB connection string (default: mongodb://localhost:27017)
  QDRANT_HOST     Qdrant hostname (default: localhost)
  QDRANT_PORT     Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY  OpenAI API key for embeddings (required)`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over the indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status [filename]",
	Short: "Show document processing status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var askDocument string

func init() {
	askCmd.Flags().StringVar(&askDocument, "document", "", "restrict retrieval to one filename")
	rootCmd.AddCommand(ingestCmd, askCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// components holds the wired backend clients shared by the subcommands.
type components struct {
	cfg      *config.Config
	registry *registry.Registry
	index    *vectorindex.QdrantIndex
	embedder *embedding.Embedder
	client   *embedding.Client
}

func connect(ctx context.Context) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := registry.NewMongoStore(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	index, err := vectorindex.NewQdrantIndex(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, cfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	if err := index.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	client, err := embedding.NewClient()
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewEmbedder(client, embedding.Options{
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		BatchSize: cfg.EmbeddingBatchSize,
		RPS:       cfg.EmbeddingRPS,
	})

	return &components{
		cfg:      cfg,
		registry: registry.New(store),
		index:    index,
		embedder: embedder,
		client:   client,
	}, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	filename := filepath.Base(args[0])

	comp, err := connect(ctx)
	if err != nil {
		return err
	}
	defer comp.index.Close()

	pipe, err := pipeline.New(pipeline.Config{
		Chunker:      chunker.New(comp.cfg.MaxChunkSize, comp.cfg.ChunkOverlap),
		Embedder:     comp.embedder,
		Index:        comp.index,
		Registry:     comp.registry,
		Logger:       slog.Default(),
		StageTimeout: comp.cfg.StageTimeout,
		Concurrency:  comp.cfg.IngestConcurrency,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Ingesting %s...\n", filename)
	result, err := pipe.Ingest(ctx, filename, raw)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Ingest complete!")
	fmt.Printf("  Pages: %d\n", result.PageCount)
	fmt.Printf("  Vectors: %d\n", result.VectorCount)
	fmt.Printf("  Text length: %d chars\n", result.TextLength)
	fmt.Printf("  Duration: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	comp, err := connect(ctx)
	if err != nil {
		return err
	}
	defer comp.index.Close()

	answerer, err := answer.New(answer.Config{
		Embedder:      comp.embedder,
		Index:         comp.index,
		Completion:    answer.NewOpenAICompletion(comp.client, comp.cfg.ChatModel, comp.cfg.LLMTimeout),
		TopK:          comp.cfg.TopK,
		ContextBudget: comp.cfg.ContextBudget,
		Logger:        slog.Default(),
	})
	if err != nil {
		return err
	}

	result, err := answerer.Ask(ctx, args[0], askDocument)
	if err != nil {
		return err
	}

	fmt.Println(result.Text)
	if len(result.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range result.Sources {
			fmt.Printf("  - %s (chunk %d, score %.3f)\n", src.Filename, src.ChunkIndex, src.Score)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	comp, err := connect(ctx)
	if err != nil {
		return err
	}
	defer comp.index.Close()

	if len(args) == 1 {
		doc, err := comp.registry.Get(ctx, args[0])
		if err != nil {
			return err
		}
		printDocument(doc)
		return nil
	}

	docs, err := comp.registry.List(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return nil
	}
	for i := range docs {
		printDocument(&docs[i])
	}
	return nil
}

func printDocument(doc *registry.Document) {
	fmt.Printf("%s  [%s]  %d bytes  uploaded %s\n",
		doc.Filename, doc.Status, doc.Size, doc.UploadedAt.Format(time.RFC3339))
	if doc.Status == registry.StatusVectorized {
		fmt.Printf("    vectors=%d pages=%d text=%d chars\n",
			doc.VectorCount, doc.PageCount, doc.TextLength)
	}
	if doc.Status == registry.StatusError {
		fmt.Printf("    failed at %s: %s\n", doc.FailedStage, doc.ErrorMessage)
	}
}
