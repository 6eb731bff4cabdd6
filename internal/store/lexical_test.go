package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalStore(t *testing.T) *LexicalStore {
	t.Helper()
	s, err := OpenLexicalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(id, path, mediaType string) *Document {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Document{
		ID:          id,
		ContentHash: "hash-" + id,
		Path:        path,
		Filename:    path[len(path)-5:],
		Extension:   ".txt",
		MediaType:   mediaType,
		Size:        123,
		CreatedAt:   now,
		ModifiedAt:  now,
		IndexedAt:   now,
	}
}

// =============================================================================
// Documents
// =============================================================================

func TestLexicalStore_DocumentRoundTrip(t *testing.T) {
	s := newTestLexicalStore(t)
	ctx := context.Background()

	doc := testDoc("d1", "/home/u/a.txt", "document")
	dur := 12.5
	w, h := 1920, 1080
	doc.DurationSeconds = &dur
	doc.Width = &w
	doc.Height = &h
	require.NoError(t, s.UpsertDocument(ctx, doc))

	got, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, doc.Path, got.Path)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
	assert.Equal(t, "document", got.MediaType)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 12.5, *got.DurationSeconds)
	require.NotNil(t, got.Width)
	assert.Equal(t, 1920, *got.Width)
	assert.False(t, got.IsDeleted)
	assert.WithinDuration(t, doc.IndexedAt, got.IndexedAt, time.Second)
}

func TestLexicalStore_GetDocumentByID_Missing(t *testing.T) {
	s := newTestLexicalStore(t)

	got, err := s.GetDocumentByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLexicalStore_GetDocumentByPath_IgnoresDeleted(t *testing.T) {
	// Given: a document that has been soft deleted
	s := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, testDoc("d1", "/a/b.txt", "document")))
	require.NoError(t, s.SoftDeleteDocument(ctx, "d1"))

	// Then: path lookup treats it as absent
	got, err := s.GetDocumentByPath(ctx, "/a/b.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	// But ID lookup still finds the row
	byID, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.True(t, byID.IsDeleted)
	assert.NotNil(t, byID.DeletedAt)
}

func TestLexicalStore_ListDocuments_PaginationAndFilter(t *testing.T) {
	s := newTestLexicalStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		doc := testDoc(fmt.Sprintf("d%d", i), fmt.Sprintf("/p/f%d.txt", i), "document")
		doc.IndexedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.UpsertDocument(ctx, doc))
	}
	require.NoError(t, s.UpsertDocument(ctx, testDoc("v1", "/p/v.mp4x", "video")))

	docs, total, err := s.ListDocuments(ctx, 2, 0, "document")
	require.NoError(t, err)

	assert.Equal(t, 5, total)
	require.Len(t, docs, 2)
	// Newest first
	assert.Equal(t, "d4", docs[0].ID)
	assert.Equal(t, "d3", docs[1].ID)

	docs, total, err = s.ListDocuments(ctx, 10, 0, "video")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "v1", docs[0].ID)
}

func TestLexicalStore_HardDeleteRemovesRow(t *testing.T) {
	s := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, testDoc("d1", "/a/b.txt", "document")))
	require.NoError(t, s.HardDeleteDocument(ctx, "d1"))

	got, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// FTS chunks
// =============================================================================

func TestLexicalStore_BM25Search(t *testing.T) {
	s := newTestLexicalStore(t)
	ctx := context.Background()

	chunks := []FTSChunk{
		{ChunkID: "c1", DocumentID: "d1", Text: "quarterly sales report for the tokyo office", Path: "/a", Filename: "a.txt"},
		{ChunkID: "c2", DocumentID: "d1", Text: "meeting notes about kubernetes deployment", Path: "/a", Filename: "a.txt"},
		{ChunkID: "c3", DocumentID: "d2", Text: "recipe for miso soup with tofu", Path: "/b", Filename: "b.txt"},
	}
	require.NoError(t, s.AddChunks(ctx, chunks))

	results, err := s.SearchChunks(ctx, "kubernetes deployment", 10)
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "c2", results[0].ChunkID)
	// Scores are abs(bm25()), so positive and descending
	for i := 0; i < len(results)-1; i++ {
		assert.GreaterOrEqual(t, results[i].Score, results[i+1].Score)
	}
	assert.Greater(t, results[0].Score, 0.0)
}

func TestLexicalStore_BM25Search_EmptyQuery(t *testing.T) {
	s := newTestLexicalStore(t)

	results, err := s.SearchChunks(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalStore_BM25Search_QuotesOperatorCharacters(t *testing.T) {
	// FTS5 operator characters in the query must not cause syntax errors
	s := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, []FTSChunk{
		{ChunkID: "c1", DocumentID: "d1", Text: "c++ templates and generics", Path: "/a", Filename: "a.txt"},
	}))

	_, err := s.SearchChunks(ctx, `c++ "unbalanced NOT (`, 10)
	assert.NoError(t, err)
}

func TestLexicalStore_DeleteChunksByDocument(t *testing.T) {
	s := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, []FTSChunk{
		{ChunkID: "c1", DocumentID: "d1", Text: "keep searching", Path: "/a", Filename: "a"},
		{ChunkID: "c2", DocumentID: "d2", Text: "keep this one", Path: "/b", Filename: "b"},
	}))

	require.NoError(t, s.DeleteChunksByDocument(ctx, "d1"))

	results, err := s.SearchChunks(ctx, "keep", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)

	n, err := s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// Transcripts
// =============================================================================

func TestLexicalStore_TranscriptUpsertAndGet(t *testing.T) {
	s := newTestLexicalStore(t)
	ctx := context.Background()

	tr := &Transcript{
		ID: "t1", DocumentID: "d1", FullText: "hello world",
		Language: "en", DurationSeconds: 42.5, WordCount: 2,
	}
	require.NoError(t, s.UpsertTranscript(ctx, tr))

	got, err := s.GetTranscript(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello world", got.FullText)
	assert.Equal(t, 42.5, got.DurationSeconds)

	// Upsert replaces by document
	tr2 := &Transcript{ID: "t2", DocumentID: "d1", FullText: "replaced",
		Language: "ja", DurationSeconds: 10, WordCount: 1}
	require.NoError(t, s.UpsertTranscript(ctx, tr2))

	got, err = s.GetTranscript(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "replaced", got.FullText)
}

func TestLexicalStore_TranscriptMissing(t *testing.T) {
	s := newTestLexicalStore(t)

	got, err := s.GetTranscript(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// Stats and suggestions
// =============================================================================

func TestLexicalStore_StatsExcludeSoftDeleted(t *testing.T) {
	// Given: two live documents, one deleted, plus chunks
	s := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, testDoc("d1", "/a/1.txt", "document")))
	require.NoError(t, s.UpsertDocument(ctx, testDoc("d2", "/a/2.jpgg", "image")))
	require.NoError(t, s.UpsertDocument(ctx, testDoc("d3", "/a/3.txt", "document")))
	require.NoError(t, s.SoftDeleteDocument(ctx, "d3"))
	require.NoError(t, s.AddChunks(ctx, []FTSChunk{
		{ChunkID: "c1", DocumentID: "d1", Text: "x", Path: "/a/1.txt", Filename: "1.txt"},
	}))

	// When: stats are read
	stats, err := s.GetStats(ctx)
	require.NoError(t, err)

	// Then: the deleted document is invisible
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 1, stats.ByMediaType["document"])
	assert.Equal(t, 1, stats.ByMediaType["image"])
	assert.Equal(t, 1, stats.TotalChunks)
	assert.NotNil(t, stats.LastIndexedAt)
}

func TestLexicalStore_IndexedDirectories(t *testing.T) {
	// Given: live documents across three directory prefixes, one soft deleted
	s := newTestLexicalStore(t)
	ctx := context.Background()

	paths := []string{
		"/home/u/docs/reports/q1.txt",
		"/home/u/docs/reports/q2.txt",
		"/home/u/docs/notes/ideas.txt",
		"/home/u/music/album/track.txt",
		"/home/u/pics/vacation/beach.txt",
	}
	for i, p := range paths {
		require.NoError(t, s.UpsertDocument(ctx, testDoc(fmt.Sprintf("d%d", i), p, "document")))
	}
	require.NoError(t, s.UpsertDocument(ctx, testDoc("gone", "/home/u/docs/old/stale.txt", "document")))
	require.NoError(t, s.SoftDeleteDocument(ctx, "gone"))

	// When: the directory summary is read
	dirs, err := s.IndexedDirectories(ctx, 10)
	require.NoError(t, err)

	// Then: paths group by their leading four segments, largest group first,
	// ties broken by path, deleted documents excluded
	require.Len(t, dirs, 3)
	assert.Equal(t, DirectoryCount{Path: "/home/u/docs", Count: 3}, dirs[0])
	assert.Equal(t, DirectoryCount{Path: "/home/u/music", Count: 1}, dirs[1])
	assert.Equal(t, DirectoryCount{Path: "/home/u/pics", Count: 1}, dirs[2])

	// Limit truncates after ordering
	dirs, err = s.IndexedDirectories(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "/home/u/docs", dirs[0].Path)
}

func TestDirectoryPrefix(t *testing.T) {
	assert.Equal(t, "/home/u/docs", directoryPrefix("/home/u/docs/reports/q1.txt"))
	assert.Equal(t, "/a/b.txt", directoryPrefix("/a/b.txt"))
	assert.Equal(t, "rel/dir/sub/file.txt", directoryPrefix("rel/dir/sub/file.txt"))
	assert.Equal(t, "/", directoryPrefix("/"))
}

func TestLexicalStore_SuggestFilenames(t *testing.T) {
	s := newTestLexicalStore(t)
	ctx := context.Background()

	for i, name := range []string{"report-2024.pdf", "report-2025.pdf", "notes.txt"} {
		doc := testDoc(fmt.Sprintf("d%d", i), "/x/"+name, "document")
		doc.Filename = name
		require.NoError(t, s.UpsertDocument(ctx, doc))
	}

	names, err := s.SuggestFilenames(ctx, "report", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"report-2024.pdf", "report-2025.pdf"}, names)

	names, err = s.SuggestFilenames(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, names)
}
