package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/internal/index"
	"github.com/loclens/loclens/internal/output"
)

func newCheckCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check lexical and vector stores for consistency",
		Long: `Compare the full-text index against the vector store and report
chunks present in one but not the other.

Orphans can appear after a crash between the two writes of an indexing
operation. With --repair, orphaned entries are removed from whichever
store holds them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd, repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Remove orphaned entries")

	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, repair bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lock, err := acquireDataDirLock(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	lexical, vectors, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lexical.Close() }()
	defer func() { _ = vectors.Close() }()

	checker := index.NewConsistencyChecker(lexical, vectors)
	result, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	out.Statusf("🔎", "Checked %d chunks in %s", result.Checked, result.Duration.Round(time.Millisecond))

	if len(result.Inconsistencies) == 0 {
		out.Success("Stores are consistent")
		return nil
	}

	out.Warningf("Found %d inconsistencies:", len(result.Inconsistencies))
	for _, issue := range result.Inconsistencies {
		out.Statusf("", "  %s: %s (%s)", issue.Type, issue.ChunkID, issue.Details)
	}

	if !repair {
		out.Newline()
		out.Status("", "Run 'loclens check --repair' to remove orphaned entries")
		return fmt.Errorf("stores are inconsistent")
	}

	if err := checker.Repair(ctx, result.Inconsistencies); err != nil {
		return err
	}
	if err := vectors.Save(cfg.VectorDir()); err != nil {
		return fmt.Errorf("failed to save vector store snapshot: %w", err)
	}
	out.Successf("Repaired %d inconsistencies", len(result.Inconsistencies))
	return nil
}
