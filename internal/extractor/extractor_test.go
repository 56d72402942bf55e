package extractor

import (
	"errors"
	"strings"
	"testing"
)

// TestExtract_EmptyInput verifies empty bytes fail with ErrExtraction.
func TestExtract_EmptyInput(t *testing.T) {
	_, err := Extract(nil)
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("Expected ErrExtraction, got %v", err)
	}
}

// TestExtract_NotAPDF verifies non-PDF bytes fail with ErrExtraction rather
// than a raw parser error.
func TestExtract_NotAPDF(t *testing.T) {
	inputs := [][]byte{
		[]byte("this is plain text, not a pdf"),
		[]byte("{\"json\": true}"),
		{0x00, 0x01, 0x02, 0x03},
	}
	for _, input := range inputs {
		_, err := Extract(input)
		if !errors.Is(err, ErrExtraction) {
			t.Errorf("Input %q: expected ErrExtraction, got %v", input, err)
		}
	}
}

// TestExtract_TruncatedPDF verifies a PDF header with a garbage body fails
// cleanly instead of returning partial nonsense.
func TestExtract_TruncatedPDF(t *testing.T) {
	input := []byte("%PDF-1.4\ngarbage that is not a valid xref table")
	_, err := Extract(input)
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("Expected ErrExtraction, got %v", err)
	}
}

// TestStripPageMarkers verifies markers are removed and real content kept.
func TestStripPageMarkers(t *testing.T) {
	input := "--- PAGE 1 ---\nreal content\n--- PAGE 2 ---\nmore content"
	got := stripPageMarkers(input)

	if strings.Contains(got, "PAGE") {
		t.Errorf("Markers not stripped: %q", got)
	}
	if !strings.Contains(got, "real content") || !strings.Contains(got, "more content") {
		t.Errorf("Content lost: %q", got)
	}
}
