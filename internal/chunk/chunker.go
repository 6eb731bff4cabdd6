// Package chunk splits extracted text into overlapping windows for embedding.
//
// Sizes are measured in Unicode code points, not bytes, so CJK text chunks
// the same way as ASCII.
package chunk

import (
	"regexp"
	"strings"
	"unicode"
)

// Chunk is one window of text with its position in the source.
type Chunk struct {
	Text      string
	Index     int
	StartChar int
	EndChar   int
}

// Chunker splits text into windows of Size with Overlap carried between
// consecutive windows.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker. Non-positive size or overlap fall back to
// the 800/200 defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 {
		overlap = 200
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Horizontal whitespace collapses to a single space; newline runs collapse
// to a single newline so line boundaries survive for split-point search.
var (
	spaceRun   = regexp.MustCompile(`[^\S\n]+`)
	newlineRun = regexp.MustCompile(`\s*\n\s*`)
)

// sentenceEnders are the characters treated as sentence boundaries.
const sentenceEnders = "。！？.!?"

// ChunkText splits text into chunks. Whitespace is normalized first: runs of
// spaces and tabs become one space, blank lines become one newline. Text at
// most Size long becomes a single chunk. Otherwise each window prefers to
// end at a sentence boundary found in the last 20% of the window, then a
// newline, then a space, and only then cuts mid-word. The next window starts
// Overlap characters before the previous end.
func (c *Chunker) ChunkText(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	normalized := spaceRun.ReplaceAllString(text, " ")
	normalized = strings.TrimSpace(newlineRun.ReplaceAllString(normalized, "\n"))
	runes := []rune(normalized)

	if len(runes) <= c.Size {
		return []Chunk{{
			Text:      normalized,
			Index:     0,
			StartChar: 0,
			EndChar:   len(runes),
		}}
	}

	var chunks []Chunk
	start := 0
	index := 0

	for start < len(runes) {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			searchStart := start + c.Size*8/10
			end = findSplitPoint(runes, searchStart, end)
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, Chunk{
				Text:      text,
				Index:     index,
				StartChar: start,
				EndChar:   end,
			})
			index++
		}

		start = end - c.Overlap
		if start < 0 {
			start = end
		}
		if start >= len(runes) || (start == end && end == len(runes)) {
			break
		}
	}

	return chunks
}

// findSplitPoint picks a split position within [start, end). Sentence
// boundaries win over newlines, newlines over spaces; the last occurrence
// in the range is used. Falls back to end when nothing matches.
func findSplitPoint(runes []rune, start, end int) int {
	lastSentence := -1
	for i := start; i < end; {
		if !isSentenceEnder(runes[i]) {
			i++
			continue
		}
		j := i + 1
		for j < end && isSentenceEnder(runes[j]) {
			j++
		}
		for j < end && unicode.IsSpace(runes[j]) {
			j++
		}
		lastSentence = j
		i = j
	}
	if lastSentence != -1 {
		return lastSentence
	}

	for i := end - 1; i >= start; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}

	for i := end - 1; i >= start; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}

	return end
}

func isSentenceEnder(r rune) bool {
	return strings.ContainsRune(sentenceEnders, r)
}
