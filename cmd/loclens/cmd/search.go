package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/internal/output"
	"github.com/loclens/loclens/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	mediaType  string
	pathPrefix string
	rerank     bool
	format     string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search the index with hybrid retrieval.

Combines BM25 keyword matching and semantic embeddings with Reciprocal
Rank Fusion. Audio and video results include the playback position of
the matching segment.

Examples:
  loclens search "tax return 2023"
  loclens search "beach sunset" --media-type image
  loclens search "standup recording" --media-type video --limit 5
  loclens search "quarterly report" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.mediaType, "media-type", "t", "", "Filter by media type (text, pdf, office, image, audio, video)")
	cmd.Flags().StringVarP(&opts.pathPrefix, "path", "s", "", "Filter by path prefix")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank fused results with the reranker model")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !fileExists(cfg.DatabasePath()) {
		return fmt.Errorf("no index found at %s, run 'loclens index <path>' first", cfg.Storage.DataDir)
	}

	lexical, vectors, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lexical.Close() }()
	defer func() { _ = vectors.Close() }()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	engine := search.NewEngine(lexical, vectors, embedder, cfg.Search.RRFConstant)

	var mediaTypes []string
	if opts.mediaType != "" {
		mediaTypes = []string{opts.mediaType}
	}

	results, err := engine.Search(ctx, query, search.Options{
		Limit:      opts.limit,
		MediaTypes: mediaTypes,
		PathPrefix: opts.pathPrefix,
		Rerank:     opts.rerank || cfg.Search.Rerank,
	})
	if err != nil {
		return err
	}

	switch opts.format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	default:
		return formatResults(out, query, results)
	}
}

// formatResults prints results in human-readable form.
func formatResults(out *output.Writer, query string, results []search.Result) error {
	if len(results) == 0 {
		out.Statusf("", "No results found for %q", query)
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		location := r.Path
		if r.StartTime != nil {
			location = fmt.Sprintf("%s @ %s", r.Path, formatTimestamp(*r.StartTime))
		}
		out.Statusf("", "%d. %s [%s] (score: %.3f)", i+1, location, r.MediaType, r.Score)

		for _, line := range snippetLines(r.Text, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatTimestamp renders seconds as m:ss or h:mm:ss.
func formatTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// snippetLines returns the first n non-empty-trailing lines of text.
func snippetLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
