package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gopdf "github.com/VantageDataChat/GoPDF2"

	lenserrors "github.com/loclens/loclens/internal/errors"
)

// PDFOptions tunes PDF extraction.
type PDFOptions struct {
	// UseMarkdown renders the extracted text as markdown with a heading
	// per page, which gives chunking stable page boundaries.
	UseMarkdown bool
	// VLMFallback enables the per-page density check.
	VLMFallback bool
	// MinCharsPerPage is the threshold below which a page is flagged for
	// vision extraction.
	MinCharsPerPage int
}

// renderTimeout bounds one pdftoppm page render.
const renderTimeout = 2 * time.Minute

// PDF extracts text from a PDF page by page and flags pages whose native
// text falls below the density threshold.
func PDF(path string, opts PDFOptions) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lenserrors.FileError("file not found: "+path, err)
	}

	if len(data) < 5 || string(data[:5]) != "%PDF-" {
		return nil, lenserrors.New(lenserrors.ErrCodeFileCorrupt,
			"not a valid PDF file: "+path, nil)
	}

	pageCount, err := gopdf.GetSourcePDFPageCountFromBytes(data)
	if err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeExtractionFailed,
			"failed to read PDF: "+path, err)
	}

	pageTexts := make([]string, pageCount)
	var pagesNeedingVLM []int

	for i := 0; i < pageCount; i++ {
		text, err := gopdf.ExtractPageText(data, i)
		if err != nil {
			text = ""
		}
		pageTexts[i] = text

		if opts.VLMFallback && len(strings.TrimSpace(text)) < opts.MinCharsPerPage {
			pagesNeedingVLM = append(pagesNeedingVLM, i)
		}
	}

	assembled := assemblePDFText(pageTexts, opts.UseMarkdown)

	method := MethodText
	if len(pagesNeedingVLM) > 0 {
		if len(pagesNeedingVLM) == pageCount {
			method = MethodVLMNeeded
		} else {
			method = MethodHybridNeeded
		}
	}

	slog.Info("extracted PDF text",
		slog.String("path", path),
		slog.Int("pages", pageCount),
		slog.Int("chars", len(assembled)),
		slog.String("method", string(method)),
		slog.Int("vlm_pages", len(pagesNeedingVLM)))

	return &Result{
		Text:            assembled,
		PageCount:       pageCount,
		PagesNeedingVLM: pagesNeedingVLM,
		Method:          method,
	}, nil
}

// assemblePDFText joins per-page text, skipping blank pages. In markdown mode
// each page gets a "## Page N" heading with N one-based.
func assemblePDFText(pages []string, useMarkdown bool) string {
	var sb strings.Builder
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		if useMarkdown {
			fmt.Fprintf(&sb, "## Page %d\n\n", i+1)
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// RenderPDFPages renders the given zero-based pages to PNG files in a temp
// directory using pdftoppm. The caller removes the returned files.
func RenderPDFPages(ctx context.Context, path string, pages []int, dpi int) ([]string, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeToolNotFound,
			"pdftoppm not found on PATH", err).
			WithSuggestion("install poppler-utils to enable PDF vision extraction")
	}

	tempDir, err := os.MkdirTemp("", "loclens-pdf-*")
	if err != nil {
		return nil, err
	}

	imagePaths := make([]string, 0, len(pages))
	for _, page := range pages {
		outPrefix := filepath.Join(tempDir, fmt.Sprintf("page-%d", page))

		runCtx, cancel := context.WithTimeout(ctx, renderTimeout)
		// pdftoppm pages are one-based
		cmd := exec.CommandContext(runCtx, "pdftoppm",
			"-f", fmt.Sprintf("%d", page+1),
			"-l", fmt.Sprintf("%d", page+1),
			"-r", fmt.Sprintf("%d", dpi),
			"-png",
			"-singlefile",
			path,
			outPrefix,
		)
		output, err := cmd.CombinedOutput()
		cancel()

		if err != nil {
			for _, p := range imagePaths {
				_ = os.Remove(p)
			}
			_ = os.RemoveAll(tempDir)
			return nil, lenserrors.New(lenserrors.ErrCodeExtractionFailed,
				fmt.Sprintf("pdftoppm failed for page %d: %s", page+1, string(output)), err)
		}

		imagePaths = append(imagePaths, outPrefix+".png")
	}

	return imagePaths, nil
}
