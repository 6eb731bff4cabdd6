package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/extract"
	"github.com/loclens/loclens/internal/vlm"
)

// VLMFallbackOptions tunes vision extraction for image-heavy PDF pages.
type VLMFallbackOptions struct {
	// DPI is the render resolution passed to pdftoppm.
	DPI int
	// MaxPages caps how many pages go through the vision model. 0 means all.
	MaxPages int
	// Workers is the number of concurrent page extractions.
	Workers int
	// PageTimeout bounds a single page's vision call.
	PageTimeout time.Duration
}

// VLMFallback extracts text from PDF pages whose native text layer is too
// sparse, by rendering them to images and running OCR through a vision model.
type VLMFallback struct {
	describer vlm.Describer
	opts      VLMFallbackOptions
}

// NewVLMFallback creates a fallback engine around a vision model.
func NewVLMFallback(describer vlm.Describer, opts VLMFallbackOptions) *VLMFallback {
	if opts.DPI <= 0 {
		opts.DPI = 150
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 60 * time.Second
	}
	return &VLMFallback{describer: describer, opts: opts}
}

// ExtractPages OCRs the given zero-based pages of a PDF and returns the text
// per page. Individual page failures are logged and omitted from the result;
// only rendering the pages can fail the whole call.
func (f *VLMFallback) ExtractPages(ctx context.Context, pdfPath string, pages []int) (map[int]string, error) {
	pages = capPages(pages, f.opts.MaxPages)
	if len(pages) == 0 {
		return nil, nil
	}

	imagePaths, err := extract.RenderPDFPages(ctx, pdfPath, pages, f.opts.DPI)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, p := range imagePaths {
			_ = os.Remove(p)
		}
		if len(imagePaths) > 0 {
			_ = os.RemoveAll(filepath.Dir(imagePaths[0]))
		}
	}()

	total := len(pages)
	texts := make(map[int]string, total)
	var mu sync.Mutex
	var successful, failed, timedOut int

	extractOne := func(i int) {
		page := pages[i]
		pageCtx, cancel := context.WithTimeout(ctx, f.opts.PageTimeout)
		text, err := f.describer.ExtractText(pageCtx, imagePaths[i])
		cancel()

		mu.Lock()
		defer mu.Unlock()

		switch {
		case err != nil && (errors.Is(err, context.DeadlineExceeded) ||
			lenserrors.GetCode(err) == lenserrors.ErrCodeUpstreamTimeout):
			timedOut++
			slog.Warn("vlm page extraction timed out",
				slog.String("progress", fmt.Sprintf("[%d/%d]", i+1, total)),
				slog.String("path", pdfPath),
				slog.Int("page", page+1))
		case err != nil:
			failed++
			slog.Warn("vlm page extraction failed",
				slog.String("progress", fmt.Sprintf("[%d/%d]", i+1, total)),
				slog.String("path", pdfPath),
				slog.Int("page", page+1),
				slog.String("error", err.Error()))
		default:
			successful++
			if strings.TrimSpace(text) != "" {
				texts[page] = text
			}
			slog.Debug("vlm page extracted",
				slog.String("progress", fmt.Sprintf("[%d/%d]", i+1, total)),
				slog.Int("page", page+1),
				slog.Int("chars", len(text)))
		}
	}

	if f.opts.Workers <= 1 {
		for i := range pages {
			if ctx.Err() != nil {
				break
			}
			extractOne(i)
		}
	} else {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(f.opts.Workers)
		for i := range pages {
			g.Go(func() error {
				extractOne(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	slog.Info("vlm fallback finished",
		slog.String("path", pdfPath),
		slog.String("summary", fmt.Sprintf("%d successful, %d failed, %d timed out",
			successful, failed, timedOut)))

	return texts, nil
}

// capPages limits how many pages are processed. max <= 0 means no limit.
func capPages(pages []int, max int) []int {
	if max <= 0 || len(pages) <= max {
		return pages
	}
	slog.Warn("VLM page limit reached",
		slog.Int("pages_needing_vlm", len(pages)),
		slog.Int("limit", max))
	return pages[:max]
}

// MergeVLMText appends vision-extracted page text to the native text in a
// stable, page-ordered layout.
func MergeVLMText(baseText string, pageTexts map[int]string) string {
	if len(pageTexts) == 0 {
		return baseText
	}

	pages := make([]int, 0, len(pageTexts))
	for page := range pageTexts {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	var sb strings.Builder
	sb.WriteString(baseText)
	sb.WriteString("\n\n--- VLM Extracted Text ---\n")
	for _, page := range pages {
		sb.WriteString(fmt.Sprintf("\n[Page %d]\n%s\n", page+1, pageTexts[page]))
	}
	return sb.String()
}
