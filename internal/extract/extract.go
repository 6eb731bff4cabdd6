// Package extract pulls searchable text out of documents: plain text with
// encoding detection, PDFs with a per-page density check that drives the
// vision fallback, and Office formats.
package extract

// Method describes how a document's text was obtained.
type Method string

const (
	// MethodText means native text extraction was sufficient.
	MethodText Method = "text"
	// MethodVLMNeeded means every page is below the text density threshold.
	MethodVLMNeeded Method = "vlm_needed"
	// MethodHybridNeeded means some pages are below the threshold.
	MethodHybridNeeded Method = "hybrid_needed"
)

// Result is the output of a document extraction.
type Result struct {
	Text  string
	Title string

	// PDF only
	PageCount       int
	PagesNeedingVLM []int // zero-based page numbers below the density threshold
	Method          Method

	// Office only
	SheetCount int
	SlideCount int

	// Plain text only
	Encoding  string
	LineCount int
}
