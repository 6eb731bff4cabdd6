package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/loclens/loclens/internal/config"
	"github.com/loclens/loclens/internal/embed"
	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/store"
)

// loadConfig builds the effective configuration from defaults, the config
// file, .env and environment variables. Without --config the default
// location is used only when the file exists.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if p := defaultConfigFile(); p != "" && fileExists(p) {
			path = p
		}
	}
	return config.Load(path)
}

// defaultConfigFile returns ~/.config/loclens/config.yaml.
func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "loclens", "config.yaml")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// acquireDataDirLock takes an exclusive lock on the data directory. Only one
// writing process may run at a time; the vector store snapshot is not safe
// under concurrent writers.
func acquireDataDirLock(cfg *config.Config) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(cfg.Storage.DataDir, "loclens.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, lenserrors.Wrap(lenserrors.ErrCodeDataDirLocked, err)
	}
	if !locked {
		return nil, lenserrors.New(lenserrors.ErrCodeDataDirLocked,
			"data directory "+cfg.Storage.DataDir+" is in use by another loclens process", nil).
			WithSuggestion("stop the running loclens server, or use the HTTP API to index")
	}
	return lock, nil
}

// openStores opens the SQLite store and loads the vector store snapshot.
// A missing snapshot is not an error; the vector store starts empty.
func openStores(cfg *config.Config) (*store.LexicalStore, *store.VectorStore, error) {
	lexical, err := store.OpenLexicalStore(cfg.DatabasePath())
	if err != nil {
		return nil, nil, err
	}

	vectors, err := store.NewVectorStore(store.VectorConfig{
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		_ = lexical.Close()
		return nil, nil, err
	}
	if err := vectors.Load(cfg.VectorDir()); err != nil {
		slog.Warn("failed to load vector store snapshot, starting empty",
			slog.String("dir", cfg.VectorDir()),
			slog.String("error", err.Error()))
	}

	return lexical, vectors, nil
}

// newEmbedder creates the Ollama embedder wrapped in an LRU cache.
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	ollama, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
		Host:       cfg.Ollama.Host,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	return embed.NewCachedEmbedder(ollama, cfg.Embedding.CacheSize), nil
}

// requiredModels lists the Ollama models the current configuration depends on.
func requiredModels(cfg *config.Config) []string {
	models := []string{cfg.Embedding.Model, cfg.VLM.Model}
	if cfg.PDF.VLMFallback && cfg.PDF.VLMModel != cfg.VLM.Model {
		models = append(models, cfg.PDF.VLMModel)
	}
	return models
}
