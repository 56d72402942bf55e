// Package api exposes the HTTP surface: upload, ask, file management, stats.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bull/pdfrag-server/internal/answer"
	"github.com/bull/pdfrag-server/internal/blob"
	"github.com/bull/pdfrag-server/internal/extractor"
	"github.com/bull/pdfrag-server/internal/pipeline"
	"github.com/bull/pdfrag-server/internal/registry"
)

// HealthChecker reports backend reachability for the health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server holds the wired application components behind the HTTP handlers.
type Server struct {
	pipeline *pipeline.Pipeline
	registry *registry.Registry
	answerer *answer.Answerer
	blobs    blob.Store
	health   HealthChecker
	extract  pipeline.ExtractFunc
	logger   *slog.Logger

	maxUploadBytes int64
}

// Config wires a Server. Health is optional; without it the health endpoint
// only reports process liveness. Extract defaults to extractor.Extract and
// backs the extract-only endpoint.
type Config struct {
	Pipeline       *pipeline.Pipeline
	Registry       *registry.Registry
	Answerer       *answer.Answerer
	Blobs          blob.Store
	Health         HealthChecker
	Extract        pipeline.ExtractFunc
	Logger         *slog.Logger
	CORSOrigins    []string
	MaxUploadBytes int64
}

// DefaultMaxUploadBytes caps uploads at 50 MB.
const DefaultMaxUploadBytes = 50 << 20

// New builds the Server and its gin router.
func New(cfg Config) (*Server, *gin.Engine) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Extract == nil {
		cfg.Extract = extractor.Extract
	}

	s := &Server{
		pipeline:       cfg.Pipeline,
		registry:       cfg.Registry,
		answerer:       cfg.Answerer,
		blobs:          cfg.Blobs,
		health:         cfg.Health,
		extract:        cfg.Extract,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/upload", s.handleUpload)
		apiGroup.POST("/ask", s.handleAsk)
		apiGroup.GET("/search", s.handleSearch)
		apiGroup.GET("/files", s.handleListFiles)
		apiGroup.GET("/files/:filename", s.handleGetFile)
		apiGroup.DELETE("/files/:filename", s.handleDeleteFile)
		apiGroup.GET("/extract/:filename", s.handleExtract)
		apiGroup.GET("/stats", s.handleStats)
	}

	return s, router
}

// requestLogger logs one line per request in the application's slog format
// instead of gin's default writer.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
