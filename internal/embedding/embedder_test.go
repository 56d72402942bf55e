package embedding

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewEmbedder_Defaults verifies zero options fall back to the package
// defaults.
func TestNewEmbedder_Defaults(t *testing.T) {
	e := NewEmbedder(&Client{}, Options{})

	assert.Equal(t, DefaultModel, e.model)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Equal(t, DefaultBatchSize, e.batchSize)
}

func TestNewEmbedder_Overrides(t *testing.T) {
	e := NewEmbedder(&Client{}, Options{Model: "text-embedding-3-large", Dimension: 1024, BatchSize: 16})

	assert.Equal(t, "text-embedding-3-large", e.model)
	assert.Equal(t, 1024, e.Dimension())
	assert.Equal(t, 16, e.batchSize)
}

func TestToFloat32(t *testing.T) {
	got := toFloat32([]float64{0.1, -0.5, 1.0})
	require.Len(t, got, 3)
	assert.InDelta(t, 0.1, got[0], 1e-6)
	assert.InDelta(t, -0.5, got[1], 1e-6)
	assert.InDelta(t, 1.0, got[2], 1e-6)

	assert.Empty(t, toFloat32(nil))
}

// TestEmbed_Integration exercises the real API. Run with OPENAI_API_KEY set.
func TestEmbed_Integration(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	client, err := NewClient()
	require.NoError(t, err)
	embedder := NewEmbedder(client, Options{Dimension: 384})

	// The empty string must embed too; it is substituted internally.
	vectors, err := embedder.Embed(context.Background(), []string{
		"The ingestion pipeline stores one vector per chunk.",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	for _, v := range vectors {
		assert.Len(t, v, 384)
	}
}
