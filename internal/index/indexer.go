// Package index orchestrates ingestion: it hashes files, routes them to the
// right extractor, chunks and embeds the text, and writes the results to the
// lexical and vector stores.
package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loclens/loclens/internal/asr"
	"github.com/loclens/loclens/internal/chunk"
	"github.com/loclens/loclens/internal/config"
	"github.com/loclens/loclens/internal/embed"
	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/extract"
	"github.com/loclens/loclens/internal/hash"
	"github.com/loclens/loclens/internal/imagemeta"
	"github.com/loclens/loclens/internal/media"
	"github.com/loclens/loclens/internal/store"
	"github.com/loclens/loclens/internal/vlm"
)

// Deps are the collaborators an Indexer needs. Images, PDFVision and
// Transcriber are optional; without them the corresponding media types
// fail with an actionable error instead of being silently skipped.
type Deps struct {
	Lexical     *store.LexicalStore
	Vectors     *store.VectorStore
	Embedder    embed.Embedder
	Images      vlm.Describer
	PDFVision   vlm.Describer
	Transcriber asr.Transcriber
}

// Indexer ingests files into the search index.
type Indexer struct {
	cfg      *config.Config
	deps     Deps
	chunker  *chunk.Chunker
	fallback *VLMFallback
}

// New creates an indexer. The PDF vision fallback is wired only when both
// the config enables it and a vision model is available.
func New(cfg *config.Config, deps Deps) *Indexer {
	idx := &Indexer{
		cfg:     cfg,
		deps:    deps,
		chunker: chunk.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
	}
	if cfg.PDF.VLMFallback && deps.PDFVision != nil {
		idx.fallback = NewVLMFallback(deps.PDFVision, VLMFallbackOptions{
			DPI:         cfg.PDF.VLMDPI,
			MaxPages:    cfg.PDF.VLMMaxPages,
			Workers:     cfg.PDF.VLMWorkers,
			PageTimeout: cfg.PDF.VLMTimeout,
		})
	}
	return idx
}

// Result reports the outcome of indexing one file.
type Result struct {
	Document *store.Document
	Chunks   int
	// Skipped is true when identical content was already indexed, or when
	// the file yielded no indexable content.
	Skipped bool
}

// DirectoryResult summarizes a recursive directory indexing run.
type DirectoryResult struct {
	Indexed int
	Skipped int
	Failed  int
	// Paths lists the files that were actually indexed.
	Paths []string
}

// IndexFile ingests a single file. Content already in the index (by hash) is
// skipped. A file whose path is indexed but whose content changed replaces
// the previous version.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, lenserrors.FileError("cannot resolve path: "+path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, lenserrors.FileError("file not found: "+absPath, err)
	}
	if info.IsDir() {
		return nil, lenserrors.ValidationError("path is a directory: "+absPath, nil)
	}
	if !media.IsIndexable(absPath) {
		return nil, lenserrors.New(lenserrors.ErrCodeUnsupportedMedia,
			"unsupported file type: "+filepath.Ext(absPath), nil)
	}

	contentHash, err := hash.ContentHash(absPath)
	if err != nil {
		return nil, err
	}

	if existing, err := idx.deps.Lexical.GetDocumentByHash(ctx, contentHash); err != nil {
		return nil, err
	} else if existing != nil {
		slog.Debug("content already indexed",
			slog.String("path", absPath),
			slog.String("existing_path", existing.Path))
		return &Result{Document: existing, Skipped: true}, nil
	}

	// A different hash at a known path means the file changed: drop the old
	// version before ingesting the new one.
	if prior, err := idx.deps.Lexical.GetDocumentByPath(ctx, absPath); err != nil {
		return nil, err
	} else if prior != nil {
		if err := idx.removeDocumentData(ctx, prior.ID); err != nil {
			return nil, err
		}
		if err := idx.deps.Lexical.HardDeleteDocument(ctx, prior.ID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	doc := &store.Document{
		ID:          uuid.NewString(),
		ContentHash: contentHash,
		Path:        absPath,
		Filename:    filepath.Base(absPath),
		Extension:   strings.ToLower(filepath.Ext(absPath)),
		MediaType:   string(media.TypeOf(absPath)),
		Size:        info.Size(),
		CreatedAt:   info.ModTime().UTC(),
		ModifiedAt:  info.ModTime().UTC(),
		IndexedAt:   now,
	}

	if err := idx.deps.Lexical.UpsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	chunks, err := idx.ingestContent(ctx, doc)
	if err != nil {
		// No partial state survives a failed ingestion.
		idx.rollback(ctx, doc.ID)
		return nil, err
	}
	if chunks == 0 {
		// An empty document row must not survive: its hash would make the
		// dedup check skip future files with the same content.
		idx.rollback(ctx, doc.ID)
		slog.Warn("no indexable content", slog.String("path", absPath))
		return &Result{Document: doc, Skipped: true}, nil
	}

	// Media pipelines fill in duration and dimensions after extraction.
	if err := idx.deps.Lexical.UpsertDocument(ctx, doc); err != nil {
		idx.rollback(ctx, doc.ID)
		return nil, err
	}

	slog.Info("indexed file",
		slog.String("path", absPath),
		slog.String("media_type", doc.MediaType),
		slog.Int("chunks", chunks))

	return &Result{Document: doc, Chunks: chunks}, nil
}

func (idx *Indexer) ingestContent(ctx context.Context, doc *store.Document) (int, error) {
	switch media.Type(doc.MediaType) {
	case media.TypeImage:
		return idx.ingestImage(ctx, doc)
	case media.TypeAudio:
		return idx.ingestAudio(ctx, doc, doc.Path)
	case media.TypeVideo:
		return idx.ingestVideo(ctx, doc)
	default:
		return idx.ingestDocument(ctx, doc)
	}
}

// =============================================================================
// Documents
// =============================================================================

func (idx *Indexer) ingestDocument(ctx context.Context, doc *store.Document) (int, error) {
	text, err := idx.extractDocumentText(ctx, doc.Path)
	if err != nil {
		return 0, err
	}
	return idx.storeTextChunks(ctx, doc, text)
}

func (idx *Indexer) extractDocumentText(ctx context.Context, path string) (string, error) {
	switch {
	case media.IsPDF(path):
		res, err := extract.PDF(path, extract.PDFOptions{
			UseMarkdown:     idx.cfg.PDF.UseMarkdown,
			VLMFallback:     idx.fallback != nil,
			MinCharsPerPage: idx.cfg.PDF.MinCharsPerPage,
		})
		if err != nil {
			return "", err
		}
		if idx.fallback != nil && len(res.PagesNeedingVLM) > 0 {
			pageTexts, err := idx.fallback.ExtractPages(ctx, path, res.PagesNeedingVLM)
			if err != nil {
				// Vision failure degrades to native text only.
				slog.Warn("vlm fallback unavailable, keeping native text",
					slog.String("path", path),
					slog.String("error", err.Error()))
				return res.Text, nil
			}
			return MergeVLMText(res.Text, pageTexts), nil
		}
		return res.Text, nil

	case media.IsOffice(path):
		res, err := extract.Office(path)
		if err != nil {
			return "", err
		}
		if res.Title != "" && !strings.Contains(res.Text, res.Title) {
			return res.Title + "\n\n" + res.Text, nil
		}
		return res.Text, nil

	default:
		res, err := extract.Text(path)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}

func (idx *Indexer) storeTextChunks(ctx context.Context, doc *store.Document, text string) (int, error) {
	chunks := idx.chunker.ChunkText(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := idx.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	records := make([]store.ChunkRecord, len(chunks))
	ftsChunks := make([]store.FTSChunk, len(chunks))
	for i, c := range chunks {
		chunkID := uuid.NewString()
		records[i] = store.ChunkRecord{
			ChunkID:    chunkID,
			DocumentID: doc.ID,
			Text:       c.Text,
			Path:       doc.Path,
			Filename:   doc.Filename,
			MediaType:  doc.MediaType,
			ChunkIndex: c.Index,
		}
		ftsChunks[i] = store.FTSChunk{
			ChunkID:    chunkID,
			DocumentID: doc.ID,
			Text:       c.Text,
			Path:       doc.Path,
			Filename:   doc.Filename,
		}
	}

	if err := idx.deps.Vectors.AddChunks(ctx, records, vectors); err != nil {
		return 0, err
	}
	if err := idx.deps.Lexical.AddChunks(ctx, ftsChunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// =============================================================================
// Images
// =============================================================================

func (idx *Indexer) ingestImage(ctx context.Context, doc *store.Document) (int, error) {
	if idx.deps.Images == nil {
		return 0, lenserrors.New(lenserrors.ErrCodeOllamaUnavailable,
			"no vision model configured for image indexing", nil)
	}

	// EXIF extraction is best-effort; a stripped or exotic file still indexes.
	meta, err := imagemeta.Extract(doc.Path)
	if err != nil {
		return 0, lenserrors.FileError("cannot read image: "+doc.Path, err)
	}
	if meta.Width > 0 && meta.Height > 0 {
		doc.Width = &meta.Width
		doc.Height = &meta.Height
	}

	analysis, err := idx.deps.Images.Analyze(ctx, doc.Path)
	if err != nil {
		return 0, err
	}

	combined := analysis.Description
	if analysis.OCRText != "" {
		combined += "\n\n" + analysis.OCRText
	}
	if metaText := imagemeta.FormatForEmbedding(meta); metaText != "" {
		combined += "\n\n" + metaText
	}

	vector, err := idx.deps.Embedder.Embed(ctx, combined)
	if err != nil {
		return 0, err
	}

	record := store.ImageRecord{
		ID:          uuid.NewString(),
		DocumentID:  doc.ID,
		Description: analysis.Description,
		OCRText:     analysis.OCRText,
		Path:        doc.Path,
		Filename:    doc.Filename,
	}
	if err := idx.deps.Vectors.AddImages(ctx, []store.ImageRecord{record}, [][]float32{vector}); err != nil {
		return 0, err
	}

	// The same text goes into FTS so lexical queries can find images too.
	err = idx.deps.Lexical.AddChunks(ctx, []store.FTSChunk{{
		ChunkID:    record.ID,
		DocumentID: doc.ID,
		Text:       combined,
		Path:       doc.Path,
		Filename:   doc.Filename,
	}})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// =============================================================================
// Audio and video
// =============================================================================

func (idx *Indexer) ingestAudio(ctx context.Context, doc *store.Document, audioPath string) (int, error) {
	if idx.deps.Transcriber == nil {
		return 0, lenserrors.New(lenserrors.ErrCodeTranscriptionFailed,
			"no transcription backend configured", nil).
			WithSuggestion("start whisper-server and set WHISPER_HOST")
	}

	result, err := idx.deps.Transcriber.Transcribe(ctx, audioPath, idx.cfg.ASR.Language)
	if err != nil {
		return 0, err
	}

	if doc.DurationSeconds == nil && result.Duration > 0 {
		duration := result.Duration
		doc.DurationSeconds = &duration
	}

	transcript := &store.Transcript{
		ID:              uuid.NewString(),
		DocumentID:      doc.ID,
		FullText:        result.Text,
		Language:        result.Language,
		DurationSeconds: result.Duration,
		WordCount:       len(strings.Fields(result.Text)),
	}
	if err := idx.deps.Lexical.UpsertTranscript(ctx, transcript); err != nil {
		return 0, err
	}

	segments := make([]chunk.Segment, len(result.Segments))
	for i, s := range result.Segments {
		segments[i] = chunk.Segment{Text: s.Text, Start: s.Start, End: s.End}
	}

	timed := idx.chunker.ChunkSegments(segments)
	if len(timed) == 0 {
		// No segment timing available, fall back to plain text chunks.
		return idx.storeTextChunks(ctx, doc, result.Text)
	}

	texts := make([]string, len(timed))
	for i, c := range timed {
		texts[i] = c.Text
	}
	vectors, err := idx.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	records := make([]store.ChunkRecord, len(timed))
	ftsChunks := make([]store.FTSChunk, len(timed))
	for i, c := range timed {
		chunkID := uuid.NewString()
		start, end := c.StartTime, c.EndTime
		records[i] = store.ChunkRecord{
			ChunkID:    chunkID,
			DocumentID: doc.ID,
			Text:       c.Text,
			Path:       doc.Path,
			Filename:   doc.Filename,
			MediaType:  doc.MediaType,
			ChunkIndex: c.Index,
			StartTime:  &start,
			EndTime:    &end,
		}
		ftsChunks[i] = store.FTSChunk{
			ChunkID:    chunkID,
			DocumentID: doc.ID,
			Text:       c.Text,
			Path:       doc.Path,
			Filename:   doc.Filename,
		}
	}

	if err := idx.deps.Vectors.AddChunks(ctx, records, vectors); err != nil {
		return 0, err
	}
	if err := idx.deps.Lexical.AddChunks(ctx, ftsChunks); err != nil {
		return 0, err
	}
	return len(timed), nil
}

func (idx *Indexer) ingestVideo(ctx context.Context, doc *store.Document) (int, error) {
	if info, err := asr.ProbeMedia(ctx, doc.Path); err == nil {
		if info.Width > 0 && info.Height > 0 {
			doc.Width = &info.Width
			doc.Height = &info.Height
		}
		if info.Duration > 0 {
			duration := info.Duration
			doc.DurationSeconds = &duration
		}
	} else {
		slog.Warn("ffprobe failed, indexing without dimensions",
			slog.String("path", doc.Path),
			slog.String("error", err.Error()))
	}

	audioPath, err := asr.ExtractAudio(ctx, doc.Path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.RemoveAll(filepath.Dir(audioPath)) }()

	return idx.ingestAudio(ctx, doc, audioPath)
}

// =============================================================================
// Directory indexing and deletion
// =============================================================================

// IndexDirectory walks dir recursively and indexes every supported file.
// Dotfiles and dot-directories are skipped. Per-file failures are logged and
// counted without aborting the walk.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string) (*DirectoryResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, lenserrors.FileError("cannot resolve path: "+dir, err)
	}
	if info, err := os.Stat(absDir); err != nil {
		return nil, lenserrors.FileError("directory not found: "+absDir, err)
	} else if !info.IsDir() {
		return nil, lenserrors.ValidationError("not a directory: "+absDir, nil)
	}

	result := &DirectoryResult{}

	walkErr := filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable entry", slog.String("path", path))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if strings.HasPrefix(d.Name(), ".") && path != absDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !media.IsIndexable(path) {
			return nil
		}

		res, err := idx.IndexFile(ctx, path)
		switch {
		case err != nil:
			result.Failed++
			slog.Error("failed to index file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		case res.Skipped:
			result.Skipped++
		default:
			result.Indexed++
			result.Paths = append(result.Paths, res.Document.Path)
		}
		return nil
	})
	if walkErr != nil {
		return result, walkErr
	}

	slog.Info("indexed directory",
		slog.String("path", absDir),
		slog.Int("indexed", result.Indexed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))

	return result, nil
}

// Delete soft-deletes a document and removes its chunks, vectors and
// transcript from the index.
func (idx *Indexer) Delete(ctx context.Context, documentID string) error {
	doc, err := idx.deps.Lexical.GetDocumentByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.IsDeleted {
		return lenserrors.NotFoundError(
			fmt.Sprintf("document not found: %s", documentID))
	}

	if err := idx.removeDocumentData(ctx, documentID); err != nil {
		return err
	}
	if err := idx.deps.Lexical.SoftDeleteDocument(ctx, documentID); err != nil {
		return err
	}

	slog.Info("deleted document",
		slog.String("document_id", documentID),
		slog.String("path", doc.Path))
	return nil
}

// DeleteByPath removes the document indexed at path, if any. Missing paths
// are not an error: the watcher delivers deletions for files that were never
// indexed.
func (idx *Indexer) DeleteByPath(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return lenserrors.FileError("cannot resolve path: "+path, err)
	}

	doc, err := idx.deps.Lexical.GetDocumentByPath(ctx, absPath)
	if err != nil {
		return err
	}
	if doc == nil {
		slog.Debug("delete for unindexed path", slog.String("path", absPath))
		return nil
	}
	return idx.Delete(ctx, doc.ID)
}

// removeDocumentData drops derived data (vectors, FTS rows, transcript)
// while leaving the document row alone.
func (idx *Indexer) removeDocumentData(ctx context.Context, documentID string) error {
	if err := idx.deps.Vectors.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	if err := idx.deps.Lexical.DeleteChunksByDocument(ctx, documentID); err != nil {
		return err
	}
	return idx.deps.Lexical.DeleteTranscriptByDocument(ctx, documentID)
}

// rollback erases every trace of a failed ingestion.
func (idx *Indexer) rollback(ctx context.Context, documentID string) {
	if err := idx.removeDocumentData(ctx, documentID); err != nil {
		slog.Error("rollback cleanup failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
	if err := idx.deps.Lexical.HardDeleteDocument(ctx, documentID); err != nil {
		slog.Error("rollback delete failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
}
