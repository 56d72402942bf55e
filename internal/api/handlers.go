package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bull/pdfrag-server/internal/answer"
	"github.com/bull/pdfrag-server/internal/blob"
	"github.com/bull/pdfrag-server/internal/extractor"
	"github.com/bull/pdfrag-server/internal/registry"
	"github.com/bull/pdfrag-server/internal/vectorindex"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleUpload accepts a multipart PDF, stores the raw bytes, and runs the
// full ingestion pipeline synchronously. A second upload of a filename still
// being processed is rejected with 409.
func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing file field"})
		return
	}

	filename := filepath.Base(fileHeader.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "only PDF files are accepted"})
		return
	}
	if fileHeader.Size > s.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read upload"})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read upload"})
		return
	}
	if int64(len(raw)) > s.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "file too large"})
		return
	}

	if err := s.blobs.Put(filename, raw); err != nil {
		s.logger.Error("Failed to store upload", "filename", filename, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to store upload"})
		return
	}

	result, err := s.pipeline.Ingest(c.Request.Context(), filename, raw)
	if err != nil {
		s.writeIngestError(c, filename, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename":     result.Filename,
		"status":       registry.StatusVectorized,
		"vector_count": result.VectorCount,
		"page_count":   result.PageCount,
		"text_length":  result.TextLength,
	})
}

func (s *Server) writeIngestError(c *gin.Context, filename string, err error) {
	switch {
	case errors.Is(err, registry.ErrConcurrentIngestion):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, extractor.ErrExtraction):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("Ingestion failed", "filename", filename, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

type askRequest struct {
	Text     string `json:"text" binding:"required"`
	Filename string `json:"filename"`
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	result, err := s.answerer.Ask(c.Request.Context(), req.Text, req.Filename)
	if err != nil {
		s.writeRetrievalError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleSearch runs bare similarity search: the question's nearest chunks with
// scores, no model call.
func (s *Server) handleSearch(c *gin.Context) {
	results, err := s.answerer.Search(c.Request.Context(), c.Query("q"), c.Query("filename"))
	if err != nil {
		s.writeRetrievalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) writeRetrievalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, answer.ErrEmptyQuestion):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, answer.ErrAnswerGeneration):
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.Is(err, vectorindex.ErrIndexUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// handleExtract returns the extracted text of a stored PDF without touching
// the index, for inspecting what ingestion would see.
func (s *Server) handleExtract(c *gin.Context) {
	filename := c.Param("filename")

	raw, err := s.blobs.Get(filename)
	if errors.Is(err, blob.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "document not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read stored file"})
		return
	}

	result, err := s.extract(raw)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename":   filename,
		"text":       result.Text,
		"page_count": result.PageCount,
		"char_count": result.CharCount,
	})
}

// handleListFiles returns all document rows, optionally filtered by a
// case-insensitive substring and capped by limit.
func (s *Server) handleListFiles(c *gin.Context) {
	docs, err := s.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list documents"})
		return
	}

	if search := strings.ToLower(c.Query("search")); search != "" {
		filtered := docs[:0]
		for _, doc := range docs {
			if strings.Contains(strings.ToLower(doc.Filename), search) {
				filtered = append(filtered, doc)
			}
		}
		docs = filtered
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		if limit < len(docs) {
			docs = docs[:limit]
		}
	}

	c.JSON(http.StatusOK, gin.H{"files": docs, "count": len(docs)})
}

func (s *Server) handleGetFile(c *gin.Context) {
	doc, err := s.registry.Get(c.Request.Context(), c.Param("filename"))
	if errors.Is(err, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "document not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// handleDeleteFile removes a document everywhere: vector index, metadata row,
// and the stored blob. A filename mid-ingestion is rejected with 409.
func (s *Server) handleDeleteFile(c *gin.Context) {
	filename := c.Param("filename")

	err := s.pipeline.Remove(c.Request.Context(), filename)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "document not found"})
		return
	case errors.Is(err, registry.ErrConcurrentIngestion):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.logger.Error("Failed to delete document", "filename", filename, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to delete document"})
		return
	}

	if err := s.blobs.Delete(filename); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("Failed to delete blob", "filename", filename, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"deleted": filename})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.registry.Statistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
