// Package chunker splits extracted text into overlapping retrieval chunks.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxChunkSize is the target chunk size in characters.
	DefaultMaxChunkSize = 1000

	// DefaultOverlap is how many characters of trailing context carry over
	// into the next chunk.
	DefaultOverlap = 100
)

// Chunk is a contiguous slice of the source text. Offset and Length locate the
// chunk in the text passed to Split, before whitespace trimming of Text.
type Chunk struct {
	Index  int
	Text   string
	Offset int
	Length int
}

// Chunker packs whole sentences into chunks of at most maxSize characters,
// carrying the last sentences of each chunk into the next as overlap.
// Identical input and configuration always yield identical chunk boundaries.
type Chunker struct {
	maxSize     int
	overlap     int
	sentenceEnd *regexp.Regexp
}

// New creates a Chunker. Non-positive maxSize or negative overlap fall back to
// the defaults; overlap is clamped below maxSize so chunks always advance.
func New(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= maxSize {
		overlap = maxSize / 2
	}
	return &Chunker{
		maxSize:     maxSize,
		overlap:     overlap,
		sentenceEnd: regexp.MustCompile(`[.!?]+\s+`),
	}
}

// span is a half-open [start, end) range into the source text.
type span struct {
	start, end int
}

// Split produces the ordered chunk sequence for text. Empty or whitespace-only
// input yields a nil slice, not an error.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := c.sentenceSpans(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0 // first sentence of the current chunk
	size := 0
	for i := 0; i < len(sentences); i++ {
		length := sentences[i].end - sentences[i].start

		if size+length > c.maxSize && size > 0 {
			chunks = append(chunks, c.makeChunk(text, sentences[start:i], len(chunks)))

			// Walk backwards through the finished chunk to build the overlap,
			// never reusing the whole chunk so the sequence always advances.
			next := i
			budget := 0
			for j := i - 1; j > start; j-- {
				l := sentences[j].end - sentences[j].start
				if budget+l > c.overlap {
					break
				}
				budget += l
				next = j
			}
			start = next
			size = budget
		}

		size += length
	}

	chunks = append(chunks, c.makeChunk(text, sentences[start:], len(chunks)))
	return chunks
}

// sentenceSpans splits text into sentence ranges, keeping terminators with
// their sentence. Sentences longer than maxSize are hard-cut so no single
// chunk can exceed the configured size.
func (c *Chunker) sentenceSpans(text string) []span {
	var spans []span
	prev := 0
	for _, loc := range c.sentenceEnd.FindAllStringIndex(text, -1) {
		if loc[1] > prev {
			spans = append(spans, span{prev, loc[1]})
		}
		prev = loc[1]
	}
	if prev < len(text) {
		spans = append(spans, span{prev, len(text)})
	}

	// Hard-cut oversized sentences, snapping each cut back to a rune
	// boundary so no chunk ever carries a torn multi-byte character.
	var out []span
	for _, s := range spans {
		for s.end-s.start > c.maxSize {
			cut := s.start + c.maxSize
			for cut > s.start && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == s.start {
				// maxSize smaller than one rune; take the whole rune.
				_, size := utf8.DecodeRuneInString(text[s.start:])
				cut = s.start + size
			}
			out = append(out, span{s.start, cut})
			s.start = cut
		}
		if s.end > s.start {
			out = append(out, s)
		}
	}
	return out
}

// makeChunk materializes the chunk covering the given sentence spans, trimming
// surrounding whitespace while keeping Offset/Length anchored to the trimmed
// region of the source.
func (c *Chunker) makeChunk(text string, sentences []span, index int) Chunk {
	start := sentences[0].start
	end := sentences[len(sentences)-1].end

	for start < end && unicode.IsSpace(rune(text[start])) {
		start++
	}
	for end > start && unicode.IsSpace(rune(text[end-1])) {
		end--
	}

	return Chunk{
		Index:  index,
		Text:   text[start:end],
		Offset: start,
		Length: end - start,
	}
}
