package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loclens/loclens/internal/config"
	"github.com/loclens/loclens/internal/index"
	"github.com/loclens/loclens/internal/search"
	"github.com/loclens/loclens/internal/store"
)

// =============================================================================
// Test fixtures
// =============================================================================

// apiEmbedder hashes text into a deterministic 4-dim unit-free vector so that
// identical content always lands on the same point.
type apiEmbedder struct{}

func (apiEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, 4)
	for i := range vec {
		vec[i] = float32((seed>>(i*8))&0xFF) + 1
	}
	return vec, nil
}

func (e apiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (apiEmbedder) Dimensions() int { return 4 }

func (apiEmbedder) ModelName() string { return "api-embed" }

func (apiEmbedder) Available(_ context.Context) bool { return true }

func (apiEmbedder) Close() error { return nil }

type recordedCommand struct {
	name string
	args []string
}

// recordingOpener captures launched commands instead of executing them.
func recordingOpener(commands *[]recordedCommand) *Opener {
	record := func(name string, args ...string) error {
		*commands = append(*commands, recordedCommand{name: name, args: args})
		return nil
	}
	return &Opener{
		lookPath: func(string) (string, error) {
			return "", fmt.Errorf("not installed")
		},
		run:   record,
		start: record,
	}
}

type testEnv struct {
	server   *Server
	indexer  *index.Indexer
	lexical  *store.LexicalStore
	commands []recordedCommand
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	lexical, err := store.OpenLexicalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	vectors, err := store.NewVectorStore(store.VectorConfig{Dimensions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	cfg := config.NewConfig()
	cfg.PDF.VLMFallback = false

	embedder := apiEmbedder{}
	indexer := index.New(cfg, index.Deps{
		Lexical:  lexical,
		Vectors:  vectors,
		Embedder: embedder,
	})
	engine := search.NewEngine(lexical, vectors, embedder, cfg.Search.RRFConstant)

	env := &testEnv{indexer: indexer, lexical: lexical}
	env.server = New(cfg, Deps{
		Engine:  engine,
		Indexer: indexer,
		Lexical: lexical,
		Opener:  recordingOpener(&env.commands),
	})
	return env
}

func (env *testEnv) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (env *testEnv) indexTextFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := env.indexer.IndexFile(context.Background(), path)
	require.NoError(t, err)
	return path
}

// =============================================================================
// Root and health
// =============================================================================

func TestRootEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "loclens API", body["name"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, "running", body["status"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

// =============================================================================
// Search
// =============================================================================

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.indexTextFile(t, "sailing.txt", "Sailing across the bay at dawn.")

	rec := env.request(t, http.MethodGet, "/api/search?q=sailing", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "sailing", body["query"])
	require.GreaterOrEqual(t, body["total"].(float64), float64(1))

	results := body["results"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, "sailing.txt", first["filename"])
	assert.Contains(t, first["text"], "Sailing")
}

func TestSearchEndpoint_MissingQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/search", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["error"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "ERR_403_QUERY_EMPTY", details["code"])
}

func TestSearchEndpoint_EmptyIndex(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/search?q=anything", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["total"])
	assert.Empty(t, body["results"])
}

func TestSuggestEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.indexTextFile(t, "report-2025.txt", "Quarterly report.")

	rec := env.request(t, http.MethodGet, "/api/search/suggest?q=rep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	suggestions := body["suggestions"].([]any)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "report-2025.txt", suggestions[0])
}

func TestSimilarEndpoint_UnknownDocument(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/search/similar/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Documents
// =============================================================================

func TestListDocumentsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.indexTextFile(t, "alpha.txt", "First document.")
	env.indexTextFile(t, "beta.txt", "Second document.")

	rec := env.request(t, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	docs := body["documents"].([]any)
	require.Len(t, docs, 2)

	doc := docs[0].(map[string]any)
	assert.NotEmpty(t, doc["id"])
	assert.NotEmpty(t, doc["path"])
	assert.Equal(t, "document", doc["media_type"])
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.indexTextFile(t, "alpha.txt", "First document.")

	rec := env.request(t, http.MethodGet, "/api/documents/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_documents"])
	assert.Equal(t, float64(1), body["total_chunks"])
	assert.NotNil(t, body["last_indexed_at"])

	byType := body["by_media_type"].(map[string]any)
	assert.Equal(t, float64(1), byType["document"])

	dirs := body["directories"].([]any)
	require.NotEmpty(t, dirs)
	first := dirs[0].(map[string]any)
	assert.NotEmpty(t, first["path"])
	assert.Equal(t, float64(1), first["count"])
}

func TestGetDocumentEndpoint(t *testing.T) {
	env := newTestEnv(t)
	path := env.indexTextFile(t, "alpha.txt", "First document.")

	listBody := decodeBody(t, env.request(t, http.MethodGet, "/api/documents", nil))
	docID := listBody["documents"].([]any)[0].(map[string]any)["id"].(string)

	rec := env.request(t, http.MethodGet, "/api/documents/"+docID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, docID, body["id"])
	assert.Equal(t, path, body["path"])
}

func TestGetDocumentEndpoint_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/documents/no-such-id", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["error"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "ERR_405_NOT_FOUND", details["code"])
}

func TestTranscriptEndpoint_DocumentWithoutTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.indexTextFile(t, "alpha.txt", "First document.")

	listBody := decodeBody(t, env.request(t, http.MethodGet, "/api/documents", nil))
	docID := listBody["documents"].([]any)[0].(map[string]any)["id"].(string)

	rec := env.request(t, http.MethodGet, "/api/documents/"+docID+"/transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()),
		"a document without a transcript returns a JSON null body")
}

func TestIndexEndpoint_File(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting notes"), 0o644))

	rec := env.request(t, http.MethodPost, "/api/documents/index", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["indexed_count"])
	assert.Equal(t, float64(0), body["skipped"])
	assert.NotEmpty(t, body["document_id"])
	paths := body["paths"].([]any)
	require.Len(t, paths, 1)
	assert.Equal(t, path, paths[0])

	// Unchanged content is skipped on the second request.
	rec = env.request(t, http.MethodPost, "/api/documents/index", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(0), body["indexed_count"])
	assert.Equal(t, float64(1), body["skipped"])
	assert.Empty(t, body["paths"])
}

func TestIndexEndpoint_Directory(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("beta"), 0o644))

	rec := env.request(t, http.MethodPost, "/api/documents/index", map[string]any{"path": dir, "recursive": true})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["indexed_count"])
	assert.Equal(t, float64(0), body["failed"])
	assert.Len(t, body["paths"].([]any), 2)
}

func TestIndexEndpoint_MissingPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/documents/index",
		map[string]any{"path": "/no/such/path"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndexEndpoint_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/documents/index", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.indexTextFile(t, "alpha.txt", "First document.")

	listBody := decodeBody(t, env.request(t, http.MethodGet, "/api/documents", nil))
	docID := listBody["documents"].([]any)[0].(map[string]any)["id"].(string)

	rec := env.request(t, http.MethodDelete, "/api/documents/"+docID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "deleted", body["status"])
	assert.Equal(t, docID, body["document_id"])

	rec = env.request(t, http.MethodGet, "/api/documents/"+docID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDocumentEndpoint_Unknown(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodDelete, "/api/documents/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Actions
// =============================================================================

func TestOpenActionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	rec := env.request(t, http.MethodPost, "/api/actions/open", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, path, body["path"])

	require.Len(t, env.commands, 1)
	assert.Contains(t, env.commands[0].args, path)
}

func TestOpenActionEndpoint_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/actions/open",
		map[string]any{"path": "/no/such/file.txt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.commands)
}

func TestRevealActionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	rec := env.request(t, http.MethodPost, "/api/actions/reveal", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	require.Len(t, env.commands, 1)
}
