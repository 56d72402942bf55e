// Package main provides the HTTP server entry point for the PDF question
// answering backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bull/pdfrag-server/internal/answer"
	"github.com/bull/pdfrag-server/internal/api"
	"github.com/bull/pdfrag-server/internal/blob"
	"github.com/bull/pdfrag-server/internal/chunker"
	"github.com/bull/pdfrag-server/internal/config"
	"github.com/bull/pdfrag-server/internal/embedding"
	"github.com/bull/pdfrag-server/internal/pipeline"
	"github.com/bull/pdfrag-server/internal/registry"
	"github.com/bull/pdfrag-server/internal/vectorindex"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Metadata store
	store, err := registry.NewMongoStore(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	reg := registry.New(store)

	// Vector database
	index, err := vectorindex.NewQdrantIndex(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, cfg.EmbeddingDimension)
	if err != nil {
		return err
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx); err != nil {
		return err
	}

	// Embeddings and completions
	client, err := embedding.NewClient()
	if err != nil {
		return err
	}
	embedder := embedding.NewEmbedder(client, embedding.Options{
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		BatchSize: cfg.EmbeddingBatchSize,
		RPS:       cfg.EmbeddingRPS,
	})

	// Ingestion pipeline
	pipe, err := pipeline.New(pipeline.Config{
		Chunker:      chunker.New(cfg.MaxChunkSize, cfg.ChunkOverlap),
		Embedder:     embedder,
		Index:        index,
		Registry:     reg,
		Logger:       logger,
		StageTimeout: cfg.StageTimeout,
		Concurrency:  cfg.IngestConcurrency,
	})
	if err != nil {
		return err
	}

	// Question answering
	answerer, err := answer.New(answer.Config{
		Embedder:      embedder,
		Index:         index,
		Completion:    answer.NewOpenAICompletion(client, cfg.ChatModel, cfg.LLMTimeout),
		TopK:          cfg.TopK,
		ContextBudget: cfg.ContextBudget,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	blobs, err := blob.NewFileStore(cfg.BlobDir)
	if err != nil {
		return err
	}

	_, router := api.New(api.Config{
		Pipeline:    pipe,
		Registry:    reg,
		Answerer:    answerer,
		Blobs:       blobs,
		Health:      index,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
