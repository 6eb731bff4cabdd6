package cmd

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/internal/output"
	"github.com/loclens/loclens/internal/store"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lexical, err := store.OpenLexicalStore(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer func() { _ = lexical.Close() }()

	stats, err := lexical.GetStats(ctx)
	if err != nil {
		return err
	}
	dirs, err := lexical.IndexedDirectories(ctx, 20)
	if err != nil {
		return err
	}

	if jsonOutput {
		var lastIndexedAt *string
		if stats.LastIndexedAt != nil {
			formatted := stats.LastIndexedAt.Format(time.RFC3339)
			lastIndexedAt = &formatted
		}
		dirList := make([]map[string]any, 0, len(dirs))
		for _, d := range dirs {
			dirList = append(dirList, map[string]any{"path": d.Path, "count": d.Count})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"total_documents": stats.TotalDocuments,
			"by_media_type":   stats.ByMediaType,
			"total_chunks":    stats.TotalChunks,
			"last_indexed_at": lastIndexedAt,
			"directories":     dirList,
			"data_dir":        cfg.Storage.DataDir,
		})
	}

	out.Statusf("📊", "Index statistics (%s)", cfg.Storage.DataDir)
	out.Newline()
	out.Statusf("", "Documents: %d", stats.TotalDocuments)
	out.Statusf("", "Chunks:    %d", stats.TotalChunks)
	if stats.LastIndexedAt != nil {
		out.Statusf("", "Last indexed: %s", stats.LastIndexedAt.Format(time.RFC3339))
	}

	if len(stats.ByMediaType) > 0 {
		out.Newline()
		out.Status("", "By media type:")
		mediaTypes := make([]string, 0, len(stats.ByMediaType))
		for mt := range stats.ByMediaType {
			mediaTypes = append(mediaTypes, mt)
		}
		sort.Strings(mediaTypes)
		for _, mt := range mediaTypes {
			out.Statusf("", "  %-8s %d", mt, stats.ByMediaType[mt])
		}
	}

	if len(dirs) > 0 {
		out.Newline()
		out.Status("", "Top directories:")
		for _, d := range dirs {
			out.Statusf("", "  %-48s %d", d.Path, d.Count)
		}
	}

	return nil
}
