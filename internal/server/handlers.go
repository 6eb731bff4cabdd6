package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/search"
	"github.com/loclens/loclens/internal/store"
	"github.com/loclens/loclens/internal/telemetry"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "loclens API",
		"version": Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// =============================================================================
// Search
// =============================================================================

type searchResponse struct {
	Query   string          `json:"query"`
	Total   int             `json:"total"`
	Results []search.Result `json:"results"`
}

func (s *Server) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondError(c, lenserrors.New(lenserrors.ErrCodeQueryEmpty,
			"query parameter q is required", nil))
		return
	}

	limit := intQuery(c, "limit", 10, 1, 100)

	var mediaTypes []string
	if mt := c.Query("media_type"); mt != "" {
		mediaTypes = []string{mt}
	}

	rerank := s.cfg.Search.Rerank
	if v := c.Query("rerank"); v != "" {
		rerank = v == "true" || v == "1"
	}

	startedAt := time.Now()
	results, err := s.engine.Search(c.Request.Context(), query, search.Options{
		Limit:      limit,
		MediaTypes: mediaTypes,
		PathPrefix: c.Query("path_prefix"),
		Rerank:     rerank,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Record(telemetry.QueryEvent{
			Query:     query,
			Results:   len(results),
			Duration:  time.Since(startedAt),
			Reranked:  rerank,
			Timestamp: startedAt,
		})
	}
	if results == nil {
		results = []search.Result{}
	}

	c.JSON(http.StatusOK, searchResponse{
		Query:   query,
		Total:   len(results),
		Results: results,
	})
}

func (s *Server) handleSuggest(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondError(c, lenserrors.New(lenserrors.ErrCodeQueryEmpty,
			"query parameter q is required", nil))
		return
	}
	limit := intQuery(c, "limit", 5, 1, 20)

	suggestions, err := s.engine.Suggest(c.Request.Context(), query, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"query":       query,
		"suggestions": suggestions,
	})
}

func (s *Server) handleSimilar(c *gin.Context) {
	documentID := c.Param("document_id")
	limit := intQuery(c, "limit", 10, 1, 100)

	results, err := s.engine.FindSimilar(c.Request.Context(), documentID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}

	c.JSON(http.StatusOK, searchResponse{
		Query:   documentID,
		Total:   len(results),
		Results: results,
	})
}

// =============================================================================
// Documents
// =============================================================================

type documentResponse struct {
	ID              string   `json:"id"`
	Path            string   `json:"path"`
	Filename        string   `json:"filename"`
	Extension       string   `json:"extension"`
	MediaType       string   `json:"media_type"`
	Size            int64    `json:"size"`
	CreatedAt       string   `json:"created_at"`
	ModifiedAt      string   `json:"modified_at"`
	IndexedAt       string   `json:"indexed_at"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
}

func toDocumentResponse(doc *store.Document) documentResponse {
	return documentResponse{
		ID:              doc.ID,
		Path:            doc.Path,
		Filename:        doc.Filename,
		Extension:       doc.Extension,
		MediaType:       doc.MediaType,
		Size:            doc.Size,
		CreatedAt:       doc.CreatedAt.Format(time.RFC3339),
		ModifiedAt:      doc.ModifiedAt.Format(time.RFC3339),
		IndexedAt:       doc.IndexedAt.Format(time.RFC3339),
		DurationSeconds: doc.DurationSeconds,
		Width:           doc.Width,
		Height:          doc.Height,
	}
}

func (s *Server) handleListDocuments(c *gin.Context) {
	limit := intQuery(c, "limit", 50, 1, 500)
	offset := intQuery(c, "offset", 0, 0, 1<<30)

	docs, total, err := s.lexical.ListDocuments(c.Request.Context(), limit, offset, c.Query("media_type"))
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		responses = append(responses, toDocumentResponse(doc))
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"documents": responses,
	})
}

type directoryCount struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.lexical.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	var lastIndexedAt *string
	if stats.LastIndexedAt != nil {
		formatted := stats.LastIndexedAt.Format(time.RFC3339)
		lastIndexedAt = &formatted
	}

	dirs, err := s.lexical.IndexedDirectories(c.Request.Context(), 20)
	if err != nil {
		respondError(c, err)
		return
	}
	dirCounts := make([]directoryCount, 0, len(dirs))
	for _, d := range dirs {
		dirCounts = append(dirCounts, directoryCount{Path: d.Path, Count: d.Count})
	}

	body := gin.H{
		"total_documents": stats.TotalDocuments,
		"by_media_type":   stats.ByMediaType,
		"total_chunks":    stats.TotalChunks,
		"last_indexed_at": lastIndexedAt,
		"directories":     dirCounts,
	}
	if s.auto != nil {
		body["queue"] = s.auto.Stats()
	}
	if s.metrics != nil {
		body["search"] = s.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleGetDocument(c *gin.Context) {
	doc, err := s.lexical.GetDocumentByID(c.Request.Context(), c.Param("document_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if doc == nil || doc.IsDeleted {
		respondError(c, lenserrors.NotFoundError("document not found"))
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleGetTranscript(c *gin.Context) {
	documentID := c.Param("document_id")

	doc, err := s.lexical.GetDocumentByID(c.Request.Context(), documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if doc == nil || doc.IsDeleted {
		respondError(c, lenserrors.NotFoundError("document not found"))
		return
	}

	transcript, err := s.lexical.GetTranscript(c.Request.Context(), documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if transcript == nil {
		// A document without a transcript is not an error; the body is
		// a JSON null.
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":               transcript.ID,
		"document_id":      transcript.DocumentID,
		"full_text":        transcript.FullText,
		"language":         transcript.Language,
		"duration_seconds": transcript.DurationSeconds,
		"word_count":       transcript.WordCount,
	})
}

type indexRequest struct {
	Path      string `json:"path" binding:"required"`
	Recursive bool   `json:"recursive"`
}

func (s *Server) handleIndex(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, lenserrors.ValidationError("invalid request body", err))
		return
	}

	path := expandHome(req.Path)
	info, err := os.Stat(path)
	if err != nil {
		respondError(c, lenserrors.FileError("path not found: "+path, err))
		return
	}

	ctx := c.Request.Context()
	if info.IsDir() {
		result, err := s.indexer.IndexDirectory(ctx, path)
		if err != nil {
			respondError(c, err)
			return
		}
		paths := result.Paths
		if paths == nil {
			paths = []string{}
		}
		c.JSON(http.StatusOK, gin.H{
			"indexed_count": result.Indexed,
			"paths":         paths,
			"skipped":       result.Skipped,
			"failed":        result.Failed,
		})
		return
	}

	result, err := s.indexer.IndexFile(ctx, path)
	if err != nil {
		respondError(c, err)
		return
	}
	paths := []string{}
	if !result.Skipped {
		paths = append(paths, result.Document.Path)
	}
	c.JSON(http.StatusOK, gin.H{
		"indexed_count": boolToCount(!result.Skipped),
		"paths":         paths,
		"skipped":       boolToCount(result.Skipped),
		"failed":        0,
		"document_id":   result.Document.ID,
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	documentID := c.Param("document_id")
	if err := s.indexer.Delete(c.Request.Context(), documentID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "deleted",
		"document_id": documentID,
	})
}

// =============================================================================
// Actions
// =============================================================================

type openRequest struct {
	Path      string   `json:"path" binding:"required"`
	StartTime *float64 `json:"start_time"`
}

func (s *Server) handleOpen(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, lenserrors.ValidationError("invalid request body", err))
		return
	}

	if err := s.opener.OpenFile(req.Path, req.StartTime); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"path":       req.Path,
		"start_time": req.StartTime,
	})
}

type revealRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) handleReveal(c *gin.Context) {
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, lenserrors.ValidationError("invalid request body", err))
		return
	}

	if err := s.opener.RevealFile(req.Path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    req.Path,
	})
}

// =============================================================================
// Helpers
// =============================================================================

// intQuery parses an integer query parameter, clamping to [min, max].
func intQuery(c *gin.Context, name string, fallback, min, max int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
