package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/internal/asr"
	"github.com/loclens/loclens/internal/index"
	"github.com/loclens/loclens/internal/lifecycle"
	"github.com/loclens/loclens/internal/logging"
	"github.com/loclens/loclens/internal/output"
	"github.com/loclens/loclens/internal/preflight"
	"github.com/loclens/loclens/internal/search"
	"github.com/loclens/loclens/internal/server"
	"github.com/loclens/loclens/internal/telemetry"
	"github.com/loclens/loclens/internal/vlm"
	"github.com/loclens/loclens/internal/watcher"
)

// serveOptions holds CLI flags for serve.
type serveOptions struct {
	port      int
	watchDirs []string
	skipCheck bool
	noPull    bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the loclens API server",
		Long: `Start the HTTP API server for search, document management and indexing.

With --watch, the given directories are monitored for changes and new or
modified files are indexed automatically.

Examples:
  loclens serve
  loclens serve --port 8080
  loclens serve --watch ~/Documents --watch ~/Pictures`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringSliceVarP(&opts.watchDirs, "watch", "w", nil, "Directory to watch for changes (repeatable)")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip pre-flight system checks")
	cmd.Flags().BoolVar(&opts.noPull, "no-pull", false, "Do not pull missing Ollama models")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.Storage.DataDir)
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
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

	if !opts.skipCheck && preflight.NeedsCheck(cfg.Storage.DataDir) {
		checker := preflight.New(cfg, preflight.WithOutput(cmd.OutOrStdout()))
		results := checker.RunAll(ctx)
		if checker.HasCriticalFailures(results) {
			checker.PrintResults(results)
			return fmt.Errorf("system check failed, run 'loclens doctor' for details")
		}
		if err := preflight.MarkPassed(cfg.Storage.DataDir); err != nil {
			slog.Debug("failed to write preflight marker", slog.String("error", err.Error()))
		}
	}

	manager := lifecycle.NewManager(cfg.Ollama.Host)
	ensureOpts := lifecycle.DefaultEnsureOpts()
	ensureOpts.AutoPull = !opts.noPull
	ensureOpts.ProgressFunc = func(p lifecycle.PullProgress) {
		out.Progress(int(p.Completed), int(p.Total), p.Status)
	}
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

	if ok, err := index.NewConsistencyChecker(lexical, vectors).QuickCheck(ctx); err == nil && !ok {
		slog.Warn("lexical and vector stores disagree, run 'loclens check --repair'")
	}

	engine := search.NewEngine(lexical, vectors, embedder, cfg.Search.RRFConstant)
	metrics := telemetry.NewSearchMetrics()

	var auto *index.AutoIndexer
	if len(opts.watchDirs) > 0 {
		auto, err = index.NewAutoIndexer(indexer, opts.watchDirs, watcher.Options{})
		if err != nil {
			return err
		}
		auto.Start(ctx)
		defer auto.Stop()
		for _, dir := range opts.watchDirs {
			out.Statusf("👀", "Watching %s", dir)
		}
	}

	srv := server.New(cfg, server.Deps{
		Engine:  engine,
		Indexer: indexer,
		Lexical: lexical,
		Auto:    auto,
		Metrics: metrics,
	})

	out.Statusf("🚀", "loclens listening on http://localhost:%d", cfg.Server.Port)
	runErr := srv.Run(ctx)

	// Persist vectors before releasing the lock so the next process sees
	// everything indexed through the API.
	if err := vectors.Save(cfg.VectorDir()); err != nil {
		slog.Error("failed to save vector store snapshot", slog.String("error", err.Error()))
	}

	return runErr
}
