package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the server and CLI.
// Values come from the environment, with a .env file loaded when present.
type Config struct {
	// Metadata store
	MongoURI string
	MongoDB  string

	// Vector database
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	// Embeddings and completions
	OpenAIAPIKey       string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingBatchSize int
	EmbeddingRPS       float64
	ChatModel          string

	// Chunking
	MaxChunkSize int
	ChunkOverlap int

	// Retrieval
	TopK          int
	ContextBudget int

	// Timeouts and concurrency
	StageTimeout      time.Duration
	LLMTimeout        time.Duration
	IngestConcurrency int

	// Storage and HTTP
	BlobDir     string
	Port        string
	CORSOrigins []string
}

// Load reads configuration from the environment. A .env file is loaded if one
// exists so local development matches production env-var configuration.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "pdfrag"),

		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "pdf_chunks"),

		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 384),
		EmbeddingBatchSize: getEnvInt("EMBEDDING_BATCH_SIZE", 100),
		EmbeddingRPS:       getEnvFloat("EMBEDDING_RPS", 5),
		ChatModel:          getEnv("CHAT_MODEL", "gpt-4o-mini"),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),

		TopK:          getEnvInt("TOP_K", 4),
		ContextBudget: getEnvInt("CONTEXT_BUDGET", 6000),

		StageTimeout:      getEnvDuration("STAGE_TIMEOUT", 60*time.Second),
		LLMTimeout:        getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		IngestConcurrency: getEnvInt("INGEST_CONCURRENCY", 4),

		BlobDir:     getEnv("BLOB_DIR", "./storage"),
		Port:        getEnv("PORT", "8000"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:5173"), ","),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate catches configuration errors that must be fatal at startup rather
// than surfaced per-request.
func (c *Config) validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.ChunkOverlap >= c.MaxChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than MAX_CHUNK_SIZE (%d)",
			c.ChunkOverlap, c.MaxChunkSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.TopK)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
