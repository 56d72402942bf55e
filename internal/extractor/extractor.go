// Package extractor turns raw PDF bytes into plain text.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrExtraction indicates the input is not a parseable PDF, is encrypted, or
// contains no extractable text. Not retryable; the caller must re-upload.
var ErrExtraction = errors.New("pdf extraction failed")

// Result holds the extracted text and basic statistics about it.
type Result struct {
	Text      string
	PageCount int
	CharCount int
}

// Extract produces UTF-8 text from raw PDF bytes, preserving page order.
// Pages are separated by "--- PAGE n ---" markers so downstream chunks keep a
// hint of their origin. Extract is a pure function over its input.
func Extract(raw []byte) (*Result, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrExtraction)
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var builder strings.Builder
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			// A single bad page does not fail the document; the page is skipped
			// and the remainder extracted in order.
			continue
		}

		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("--- PAGE %d ---\n", i))
		builder.WriteString(text)
	}

	text := builder.String()
	if strings.TrimSpace(stripPageMarkers(text)) == "" {
		return nil, fmt.Errorf("%w: no text content in %d pages", ErrExtraction, pages)
	}

	return &Result{
		Text:      text,
		PageCount: pages,
		CharCount: len(text),
	}, nil
}

// stripPageMarkers removes the page markers so emptiness checks look at real
// document content only.
func stripPageMarkers(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "--- PAGE ") && strings.HasSuffix(line, " ---") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
