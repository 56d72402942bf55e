package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdfrag-server/internal/answer"
	"github.com/bull/pdfrag-server/internal/blob"
	"github.com/bull/pdfrag-server/internal/chunker"
	"github.com/bull/pdfrag-server/internal/extractor"
	"github.com/bull/pdfrag-server/internal/pipeline"
	"github.com/bull/pdfrag-server/internal/registry"
	"github.com/bull/pdfrag-server/internal/vectorindex"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeCompletion struct{ response string }

func (f *fakeCompletion) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, nil
}

type testEnv struct {
	router *gin.Engine
	index  *vectorindex.MemoryIndex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	index := vectorindex.NewMemoryIndex(4)
	reg := registry.New(registry.NewMemoryStore())
	embedder := &fakeEmbedder{dim: 4}

	extract := func(raw []byte) (*extractor.Result, error) {
		return &extractor.Result{
			Text:      "First sentence of the document. Second sentence closes it.",
			PageCount: 1,
			CharCount: 58,
		}, nil
	}

	pipe, err := pipeline.New(pipeline.Config{
		Chunker:  chunker.New(60, 10),
		Embedder: embedder,
		Index:    index,
		Registry: reg,
		Extract:  extract,
	})
	require.NoError(t, err)

	answerer, err := answer.New(answer.Config{
		Embedder:   embedder,
		Index:      index,
		Completion: &fakeCompletion{response: "The document says so."},
	})
	require.NoError(t, err)

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, router := New(Config{
		Pipeline: pipe,
		Registry: reg,
		Answerer: answerer,
		Blobs:    blobs,
		Extract:  extract,
	})
	return &testEnv{router: router, index: index}
}

func (e *testEnv) upload(t *testing.T, filename string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestUpload_Success(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "report.pdf")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "report.pdf", resp["filename"])
	assert.Equal(t, "vectorized", resp["status"])
	assert.Greater(t, resp["vector_count"].(float64), 0.0)

	rec = env.do(t, http.MethodGet, "/api/files/report.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"vectorized"`)
}

func TestUpload_RejectsNonPDF(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "notes.txt")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "PDF")
}

func TestUpload_MissingFileField(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("name", "report.pdf"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk_Success(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "report.pdf")

	rec := env.do(t, http.MethodPost, "/api/ask", map[string]string{
		"text": "What does the document say?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp answer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "The document says so.", resp.Text)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "report.pdf", resp.Sources[0].Filename)
}

func TestAsk_MissingText(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ask", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// With nothing ingested the canned answer still comes back with 200.
func TestAsk_NoDocuments(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ask", map[string]string{
		"text": "Anything there?",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp answer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, answer.NoContentAnswer, resp.Text)
	assert.Empty(t, resp.Sources)
}

// Whitespace-only text passes the required binding but is still caller error,
// so it maps to 400 rather than an internal failure.
func TestAsk_WhitespaceText(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ask", map[string]string{
		"text": "   \n\t  ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty")
}

func TestSearch_ReturnsScoredResults(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "report.pdf")

	rec := env.do(t, http.MethodGet, "/api/search?q=What+does+the+document+say", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []answer.Source `json:"results"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, len(resp.Results), resp.Count)
	assert.Equal(t, "report.pdf", resp.Results[0].Filename)
	assert.Greater(t, resp.Results[0].Score, float32(0))
	for i := 0; i < len(resp.Results)-1; i++ {
		assert.GreaterOrEqual(t, resp.Results[i].Score, resp.Results[i+1].Score)
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=+++", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtract_ReturnsStoredText(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "report.pdf")

	rec := env.do(t, http.MethodGet, "/api/extract/report.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "report.pdf", resp["filename"])
	assert.Contains(t, resp["text"], "First sentence")
	assert.Equal(t, float64(1), resp["page_count"])
}

func TestExtract_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/extract/missing.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFiles_SearchAndLimit(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "alpha-report.pdf")
	env.upload(t, "beta-report.pdf")
	env.upload(t, "gamma-notes.pdf")

	rec := env.do(t, http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":3`)

	rec = env.do(t, http.MethodGet, "/api/files?search=REPORT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
	assert.NotContains(t, rec.Body.String(), "gamma-notes.pdf")

	rec = env.do(t, http.MethodGet, "/api/files?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = env.do(t, http.MethodGet, "/api/files?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFile_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/files/missing.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteFile_RemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "report.pdf")
	require.Greater(t, env.index.Count("report.pdf"), 0)

	rec := env.do(t, http.MethodDelete, "/api/files/report.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 0, env.index.Count("report.pdf"))
	rec = env.do(t, http.MethodGet, "/api/files/report.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteFile_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/files/missing.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "report.pdf")

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats registry.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 1, stats.Vectorized)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ok"))
}

type failingHealth struct{}

func (failingHealth) Health(ctx context.Context) error {
	return errors.New("vector backend unreachable")
}

func TestHealth_Degraded(t *testing.T) {
	_, router := New(Config{Health: failingHealth{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
