package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ChunkText Tests
// =============================================================================

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	c := NewChunker(800, 200)

	chunks := c.ChunkText("This is a short text.")

	require.Len(t, chunks, 1)
	assert.Equal(t, "This is a short text.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].StartChar)
}

func TestChunkText_LongTextSplits(t *testing.T) {
	c := NewChunker(50, 10)

	chunks := c.ChunkText(strings.Repeat("This is a much longer text. ", 10))

	assert.Greater(t, len(chunks), 1)
}

func TestChunkText_EmptyAndWhitespace(t *testing.T) {
	c := NewChunker(800, 200)

	assert.Nil(t, c.ChunkText(""))
	assert.Nil(t, c.ChunkText("   \n\t   "))
}

func TestChunkText_NormalizesWhitespace(t *testing.T) {
	c := NewChunker(800, 200)

	chunks := c.ChunkText("hello\n\n  world\t\tagain")

	// Tabs and space runs collapse, the blank line survives as one newline
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello\nworld again", chunks[0].Text)
}

func TestChunkText_PrefersNewlineOverHardCut(t *testing.T) {
	// Lines with no spaces or sentence enders: only the newline can split
	c := NewChunker(50, 10)
	text := strings.TrimSpace(strings.Repeat(strings.Repeat("x", 8)+"\n", 20))

	chunks := c.ChunkText(text)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.Less(t, ch.EndChar-ch.StartChar, 50,
			"chunk %d should end at a line break, not a hard cut", ch.Index)
	}
}

func TestChunkText_PrefersSentenceBoundary(t *testing.T) {
	// Given: sentences short enough that every search window contains one
	c := NewChunker(50, 10)
	text := strings.Repeat("One two. ", 20)

	// When: chunked
	chunks := c.ChunkText(text)

	// Then: every non-final chunk ends at a sentence boundary
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, "."),
			"chunk %d should end at sentence boundary: %q", ch.Index, ch.Text)
	}
}

func TestChunkText_FallsBackToSpaceBoundary(t *testing.T) {
	// No sentence enders at all, so the word boundary is used
	c := NewChunker(50, 10)
	text := strings.Repeat("alpha beta gamma delta epsilon ", 10)

	chunks := c.ChunkText(text)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.False(t, strings.HasSuffix(ch.Text, " "))
		// The cut never lands mid-word
		last := ch.Text[strings.LastIndex(ch.Text, " ")+1:]
		assert.Contains(t, []string{"alpha", "beta", "gamma", "delta", "epsilon"}, last)
	}
}

func TestChunkText_HardCutWithoutBoundaries(t *testing.T) {
	// One unbroken run of letters cannot split nicely
	c := NewChunker(50, 10)

	chunks := c.ChunkText(strings.Repeat("a", 200))

	require.Greater(t, len(chunks), 1)
	assert.Len(t, chunks[0].Text, 50)
}

func TestChunkText_OverlapCarriesText(t *testing.T) {
	// Given: a hard-cut split with overlap 10
	c := NewChunker(50, 10)

	chunks := c.ChunkText(strings.Repeat("a", 120) + strings.Repeat("b", 80))

	// Then: consecutive chunk windows overlap by 10 characters
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndChar-10, chunks[i].StartChar)
	}
}

func TestChunkText_UnicodeCountsRunes(t *testing.T) {
	// Given: Japanese text where byte length is 3x rune length
	c := NewChunker(800, 200)

	chunks := c.ChunkText("日本語テキストです。これはテストです。")

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "日本語")
}

func TestChunkText_UnicodeSentenceSplit(t *testing.T) {
	c := NewChunker(35, 5)
	text := strings.Repeat("これは文です。", 10)

	chunks := c.ChunkText(text)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, "。"), "chunk %q", ch.Text)
	}
}

func TestChunkText_IndexesAreSequential(t *testing.T) {
	c := NewChunker(50, 10)

	chunks := c.ChunkText(strings.Repeat("This is a test. ", 20))

	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.GreaterOrEqual(t, ch.StartChar, 0)
		assert.Greater(t, ch.EndChar, ch.StartChar)
	}
}

func TestChunkText_ContentPreserved(t *testing.T) {
	c := NewChunker(50, 10)

	chunks := c.ChunkText(strings.Repeat("Word1 Word2 Word3 Word4 Word5 ", 5))

	var all []string
	for _, ch := range chunks {
		all = append(all, ch.Text)
	}
	joined := strings.Join(all, " ")
	for _, w := range []string{"Word1", "Word2", "Word3", "Word4", "Word5"} {
		assert.Contains(t, joined, w)
	}
}

// =============================================================================
// ChunkSegments Tests
// =============================================================================

func TestChunkSegments_MergesUpToSize(t *testing.T) {
	// Given: three short segments fitting one 50-char window
	c := NewChunker(50, 10)
	segments := []Segment{
		{Text: "Hello world.", Start: 0.0, End: 1.0},
		{Text: "This is a test.", Start: 1.0, End: 2.0},
		{Text: "Another segment.", Start: 2.0, End: 3.0},
	}

	// When: chunked
	chunks := c.ChunkSegments(segments)

	// Then: merged into one chunk spanning the full time range
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello world. This is a test. Another segment.", chunks[0].Text)
	assert.Equal(t, 0.0, chunks[0].StartTime)
	assert.Equal(t, 3.0, chunks[0].EndTime)
}

func TestChunkSegments_SealsAtSizeLimit(t *testing.T) {
	c := NewChunker(30, 0)
	segments := []Segment{
		{Text: "First segment text here", Start: 0.0, End: 2.0},
		{Text: "Second segment text here", Start: 2.0, End: 4.0},
		{Text: "Third segment text here", Start: 4.0, End: 6.0},
	}

	chunks := c.ChunkSegments(segments)

	require.Greater(t, len(chunks), 1)
	// Time ranges follow the segments that landed in each chunk
	assert.Equal(t, 0.0, chunks[0].StartTime)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.GreaterOrEqual(t, ch.EndTime, ch.StartTime)
	}
}

func TestChunkSegments_SkipsEmptySegments(t *testing.T) {
	c := NewChunker(100, 0)
	segments := []Segment{
		{Text: "   ", Start: 0.0, End: 1.0},
		{Text: "Real text.", Start: 1.0, End: 2.0},
	}

	chunks := c.ChunkSegments(segments)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Real text.", chunks[0].Text)
}

func TestChunkSegments_Empty(t *testing.T) {
	c := NewChunker(100, 0)
	assert.Nil(t, c.ChunkSegments(nil))
}

func TestChunkSegments_OversizedSegmentKeptWhole(t *testing.T) {
	// A single segment longer than the window is never split
	c := NewChunker(10, 0)
	segments := []Segment{
		{Text: "this segment is far longer than ten characters", Start: 0.0, End: 5.0},
	}

	chunks := c.ChunkSegments(segments)

	require.Len(t, chunks, 1)
	assert.Equal(t, segments[0].Text, chunks[0].Text)
}
