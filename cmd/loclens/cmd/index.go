package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/internal/asr"
	"github.com/loclens/loclens/internal/index"
	"github.com/loclens/loclens/internal/lifecycle"
	"github.com/loclens/loclens/internal/logging"
	"github.com/loclens/loclens/internal/output"
	"github.com/loclens/loclens/internal/vlm"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	noPull bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Index files or directories",
		Long: `Index files or directories into the local search index.

Directories are walked recursively. Files already indexed with unchanged
content are skipped; modified files are re-indexed in place.

Examples:
  loclens index ~/Documents
  loclens index report.pdf vacation.jpg
  loclens index ~/Music --no-pull`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noPull, "no-pull", false, "Do not pull missing Ollama models")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, paths []string, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.Storage.DataDir)
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = debugMode
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	lock, err := acquireDataDirLock(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ensureOpts := lifecycle.DefaultEnsureOpts()
	ensureOpts.AutoPull = !opts.noPull
	ensureOpts.ProgressFunc = func(p lifecycle.PullProgress) {
		out.Progress(int(p.Completed), int(p.Total), p.Status)
	}
	manager := lifecycle.NewManager(cfg.Ollama.Host)
	if err := manager.EnsureReady(ctx, requiredModels(cfg), ensureOpts); err != nil {
		return err
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

	deps := index.Deps{
		Lexical:  lexical,
		Vectors:  vectors,
		Embedder: embedder,
		Images: vlm.NewOllamaVLM(vlm.Config{
			Host:  cfg.Ollama.Host,
			Model: cfg.VLM.Model,
		}),
		Transcriber: asr.NewWhisperClient(asr.WhisperConfig{
			Host:           cfg.ASR.WhisperHost,
			RequestTimeout: cfg.ASR.Timeout,
		}),
	}
	if cfg.PDF.VLMFallback {
		deps.PDFVision = vlm.NewOllamaVLM(vlm.Config{
			Host:           cfg.Ollama.Host,
			Model:          cfg.PDF.VLMModel,
			RequestTimeout: cfg.PDF.VLMTimeout,
		})
	}
	indexer := index.New(cfg, deps)

	startedAt := time.Now()
	var indexed, skipped, failed int

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			out.Errorf("cannot access %s: %v", path, err)
			failed++
			continue
		}

		if info.IsDir() {
			out.Statusf("📂", "Indexing %s", path)
			result, err := indexer.IndexDirectory(ctx, path)
			if err != nil {
				return err
			}
			indexed += result.Indexed
			skipped += result.Skipped
			failed += result.Failed
			continue
		}

		result, err := indexer.IndexFile(ctx, path)
		if err != nil {
			out.Errorf("failed to index %s: %v", path, err)
			failed++
			continue
		}
		if result.Skipped {
			skipped++
		} else {
			indexed++
		}
	}

	if err := vectors.Save(cfg.VectorDir()); err != nil {
		return fmt.Errorf("failed to save vector store snapshot: %w", err)
	}

	slog.Info("index complete",
		slog.Int("indexed", indexed),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(startedAt)))

	out.Successf("Indexed %d files in %s (%d unchanged, %d failed)",
		indexed, time.Since(startedAt).Round(time.Millisecond), skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d files failed to index", failed)
	}
	return nil
}
