package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	lenserr "github.com/loclens/loclens/internal/errors"
)

// LexicalStore is the SQLite-backed metadata and full-text layer.
// It holds the documents table, the chunks_fts FTS5 index and transcripts.
type LexicalStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// OpenLexicalStore opens (creating if needed) the SQLite database at path.
// Use ":memory:" for an in-memory database in tests.
func OpenLexicalStore(path string) (*LexicalStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}

	// Single connection avoids SQLITE_BUSY with the modernc driver.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, lenserr.New(lenserr.ErrCodeStoreFailed,
				fmt.Sprintf("failed to set %s", pragma), err)
		}
	}

	s := &LexicalStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LexicalStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			path TEXT NOT NULL,
			filename TEXT NOT NULL,
			extension TEXT NOT NULL,
			media_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			modified_at TEXT NOT NULL,
			indexed_at TEXT NOT NULL,
			is_deleted INTEGER DEFAULT 0,
			deleted_at TEXT,
			duration_seconds REAL,
			width INTEGER,
			height INTEGER
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id,
			document_id,
			text,
			path,
			filename,
			tokenize='unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL UNIQUE,
			full_text TEXT NOT NULL,
			language TEXT NOT NULL,
			duration_seconds REAL NOT NULL,
			word_count INTEGER NOT NULL,
			FOREIGN KEY (document_id) REFERENCES documents(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return lenserr.New(lenserr.ErrCodeStoreFailed, "failed to create schema", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *LexicalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// =============================================================================
// Documents
// =============================================================================

// UpsertDocument inserts or replaces a document row.
func (s *LexicalStore) UpsertDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
		(id, content_hash, path, filename, extension, media_type, size,
		 created_at, modified_at, indexed_at, is_deleted, deleted_at,
		 duration_seconds, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ContentHash, doc.Path, doc.Filename, doc.Extension,
		doc.MediaType, doc.Size,
		formatTime(doc.CreatedAt), formatTime(doc.ModifiedAt), formatTime(doc.IndexedAt),
		boolToInt(doc.IsDeleted), formatTimePtr(doc.DeletedAt),
		doc.DurationSeconds, doc.Width, doc.Height)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return nil
}

const documentColumns = `id, content_hash, path, filename, extension, media_type, size,
	created_at, modified_at, indexed_at, is_deleted, deleted_at,
	duration_seconds, width, height`

// GetDocumentByID returns a document regardless of deletion state.
func (s *LexicalStore) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentByHash returns the live document with the given content hash,
// or nil when absent. Used by ingestion to skip unchanged files.
func (s *LexicalStore) GetDocumentByHash(ctx context.Context, contentHash string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = ? AND is_deleted = 0`, contentHash)
	return scanDocument(row)
}

// GetDocumentByPath returns the live document at path, or nil when absent.
func (s *LexicalStore) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path = ? AND is_deleted = 0`, path)
	return scanDocument(row)
}

// ListDocuments returns live documents ordered by indexed_at descending,
// with the total count before pagination.
func (s *LexicalStore) ListDocuments(ctx context.Context, limit, offset int, mediaType string) ([]*Document, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := "WHERE is_deleted = 0"
	args := []any{}
	if mediaType != "" {
		where += " AND media_type = ?"
		args = append(args, mediaType)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents "+where, args...).Scan(&total); err != nil {
		return nil, 0, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}

	query := `SELECT ` + documentColumns + ` FROM documents ` + where +
		` ORDER BY indexed_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// SoftDeleteDocument marks a document deleted, hiding it from search and
// stats while keeping the row for history.
func (s *LexicalStore) SoftDeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET is_deleted = 1, deleted_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return nil
}

// HardDeleteDocument removes the document row entirely. Used to clean up
// after a failed ingestion so no partial state survives.
func (s *LexicalStore) HardDeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return nil
}

// =============================================================================
// Chunks (FTS5)
// =============================================================================

// AddChunks indexes chunks in the FTS table inside one transaction.
func (s *LexicalStore) AddChunks(ctx context.Context, chunks []FTSChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks_fts (chunk_id, document_id, text, path, filename)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocumentID, c.Text, c.Path, c.Filename); err != nil {
			return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
		}
	}
	return tx.Commit()
}

// DeleteChunksByDocument removes a document's chunks from the FTS index.
func (s *LexicalStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE document_id = ?`, documentID)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return nil
}

// ChunkIDs returns every chunk ID in the FTS index.
func (s *LexicalStore) ChunkIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks_fts`)
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunksByIDs removes individual chunks from the FTS index.
func (s *LexicalStore) DeleteChunksByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
		}
	}
	return tx.Commit()
}

// SearchChunks runs a BM25-ranked full-text query. Query terms are OR-joined
// so partial matches still rank. An empty query returns no results.
func (s *LexicalStore) SearchChunks(ctx context.Context, query string, limit int) ([]BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, text, path, filename,
		       bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts)
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeSearchFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var results []BM25Result
	for rows.Next() {
		var r BM25Result
		var score float64
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Text, &r.Path, &r.Filename, &score); err != nil {
			return nil, lenserr.Wrap(lenserr.ErrCodeSearchFailed, err)
		}
		// bm25() returns negative values, better matches more negative
		r.Score = math.Abs(score)
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildFTSQuery quotes each whitespace-separated term and joins with OR.
// Quoting keeps FTS5 operator characters in user queries from becoming
// syntax errors.
func buildFTSQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, `""`)
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// CountChunks returns the number of rows in the FTS index.
func (s *LexicalStore) CountChunks(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks_fts`).Scan(&n)
	if err != nil {
		return 0, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return n, nil
}

// =============================================================================
// Transcripts
// =============================================================================

// UpsertTranscript stores a transcript, replacing any existing one for the
// same document.
func (s *LexicalStore) UpsertTranscript(ctx context.Context, t *Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, document_id, full_text, language, duration_seconds, word_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			full_text = excluded.full_text,
			language = excluded.language,
			duration_seconds = excluded.duration_seconds,
			word_count = excluded.word_count`,
		t.ID, t.DocumentID, t.FullText, t.Language, t.DurationSeconds, t.WordCount)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return nil
}

// GetTranscript returns the transcript for a document, or nil when absent.
func (s *LexicalStore) GetTranscript(ctx context.Context, documentID string) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Transcript
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, full_text, language, duration_seconds, word_count
		FROM transcripts WHERE document_id = ?`, documentID).
		Scan(&t.ID, &t.DocumentID, &t.FullText, &t.Language, &t.DurationSeconds, &t.WordCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return &t, nil
}

// DeleteTranscriptByDocument removes a document's transcript.
func (s *LexicalStore) DeleteTranscriptByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transcripts WHERE document_id = ?`, documentID)
	if err != nil {
		return lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	return nil
}

// =============================================================================
// Stats and suggestions
// =============================================================================

// GetStats summarizes live documents and indexed chunks.
func (s *LexicalStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{ByMediaType: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE is_deleted = 0`).
		Scan(&stats.TotalDocuments); err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT media_type, COUNT(*) FROM documents
		WHERE is_deleted = 0 GROUP BY media_type`)
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var mt string
		var n int
		if err := rows.Scan(&mt, &n); err != nil {
			return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
		}
		stats.ByMediaType[mt] = n
	}
	if err := rows.Err(); err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks_fts`).Scan(&stats.TotalChunks); err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(indexed_at) FROM documents WHERE is_deleted = 0`).Scan(&last); err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	if last.Valid {
		if ts, err := parseTime(last.String); err == nil {
			stats.LastIndexedAt = &ts
		}
	}

	return stats, nil
}

// IndexedDirectories summarizes where the indexed corpus lives: live
// document paths are grouped by their leading four path segments and the
// most populous groups come back first. limit <= 0 means the default 20.
func (s *LexicalStore) IndexedDirectories(ctx context.Context, limit int) ([]DirectoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM documents WHERE is_deleted = 0`)
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
		}
		counts[directoryPrefix(path)]++
	}
	if err := rows.Err(); err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}

	dirs := make([]DirectoryCount, 0, len(counts))
	for path, n := range counts {
		dirs = append(dirs, DirectoryCount{Path: path, Count: n})
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].Count != dirs[j].Count {
			return dirs[i].Count > dirs[j].Count
		}
		return dirs[i].Path < dirs[j].Path
	})
	if len(dirs) > limit {
		dirs = dirs[:limit]
	}
	return dirs, nil
}

// directoryPrefix keeps the root plus the first three components of a path.
// "/home/u/notes/2024/tax.pdf" groups under "/home/u/notes".
func directoryPrefix(path string) string {
	clean := filepath.ToSlash(filepath.Clean(path))
	parts := strings.Split(clean, "/")
	// parts[0] is "" for absolute paths and stands in for the root
	if len(parts) > 4 {
		parts = parts[:4]
	}
	if joined := strings.Join(parts, "/"); joined != "" {
		return joined
	}
	return "/"
}

// SuggestFilenames returns live filenames starting with prefix, for
// search-as-you-type suggestions.
func (s *LexicalStore) SuggestFilenames(ctx context.Context, prefix string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.TrimSpace(prefix) == "" {
		return nil, nil
	}

	// Escape LIKE wildcards in the user prefix
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT filename FROM documents
		WHERE is_deleted = 0 AND filename LIKE ? ESCAPE '\'
		ORDER BY filename LIMIT ?`, escaped+"%", limit)
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, lenserr.Wrap(lenserr.ErrCodeStoreFailed, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// =============================================================================
// Helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*Document, error) {
	doc, err := scanDocumentFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func scanDocumentRows(rows *sql.Rows) (*Document, error) {
	return scanDocumentFrom(rows)
}

func scanDocumentFrom(r rowScanner) (*Document, error) {
	var doc Document
	var createdAt, modifiedAt, indexedAt string
	var deletedAt sql.NullString
	var isDeleted int
	var duration sql.NullFloat64
	var width, height sql.NullInt64

	err := r.Scan(&doc.ID, &doc.ContentHash, &doc.Path, &doc.Filename,
		&doc.Extension, &doc.MediaType, &doc.Size,
		&createdAt, &modifiedAt, &indexedAt, &isDeleted, &deletedAt,
		&duration, &width, &height)
	if err != nil {
		return nil, err
	}

	doc.CreatedAt, _ = parseTime(createdAt)
	doc.ModifiedAt, _ = parseTime(modifiedAt)
	doc.IndexedAt, _ = parseTime(indexedAt)
	doc.IsDeleted = isDeleted != 0
	if deletedAt.Valid {
		if ts, err := parseTime(deletedAt.String); err == nil {
			doc.DeletedAt = &ts
		}
	}
	if duration.Valid {
		doc.DurationSeconds = &duration.Float64
	}
	if width.Valid {
		w := int(width.Int64)
		doc.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		doc.Height = &h
	}
	return &doc, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
