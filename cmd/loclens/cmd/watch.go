package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/internal/asr"
	"github.com/loclens/loclens/internal/index"
	"github.com/loclens/loclens/internal/lifecycle"
	"github.com/loclens/loclens/internal/logging"
	"github.com/loclens/loclens/internal/output"
	"github.com/loclens/loclens/internal/vlm"
	"github.com/loclens/loclens/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var noPull bool

	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Watch directories and index changes continuously",
		Long: `Watch directories and keep the index in sync without running the
API server. New and modified files are indexed, deleted files are
removed. Runs until interrupted.

Examples:
  loclens watch ~/Documents
  loclens watch ~/Documents ~/Pictures`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args, noPull)
		},
	}

	cmd.Flags().BoolVar(&noPull, "no-pull", false, "Do not pull missing Ollama models")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, dirs []string, noPull bool) error {
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
	ensureOpts.AutoPull = !noPull
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

	auto, err := index.NewAutoIndexer(indexer, dirs, watcher.Options{})
	if err != nil {
		return err
	}
	auto.Start(ctx)

	for _, dir := range dirs {
		out.Statusf("👀", "Watching %s", dir)
	}
	out.Status("", "Press Ctrl+C to stop")

	// Persist vectors periodically so a crash loses at most one interval.
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := vectors.Save(cfg.VectorDir()); err != nil {
				slog.Error("failed to save vector store snapshot", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			auto.Stop()
			stats := auto.Stats()
			out.Newline()
			out.Successf("Stopped (%d indexed, %d failed)", stats.Completed, stats.Failed)
			if err := vectors.Save(cfg.VectorDir()); err != nil {
				slog.Error("failed to save vector store snapshot", slog.String("error", err.Error()))
			}
			return nil
		}
	}
}
