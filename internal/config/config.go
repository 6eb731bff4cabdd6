// Package config loads loclens settings from defaults, an optional YAML file,
// a .env overlay, and environment variables (highest priority).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	lenserr "github.com/loclens/loclens/internal/errors"
)

// Config is the root configuration.
type Config struct {
	Ollama    OllamaConfig    `yaml:"ollama"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	PDF       PDFConfig       `yaml:"pdf"`
	VLM       VLMConfig       `yaml:"vlm"`
	ASR       ASRConfig       `yaml:"asr"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OllamaConfig configures the Ollama endpoint shared by embedder, VLM and reranker.
type OllamaConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig configures on-disk data locations.
type StorageConfig struct {
	// DataDir holds the SQLite database, vector store files and logs.
	DataDir string `yaml:"data_dir"`
}

// EmbeddingConfig configures the embedding model.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
}

// ChunkingConfig configures the text chunker.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// PDFConfig configures PDF extraction and the VLM fallback for image-heavy PDFs.
type PDFConfig struct {
	UseMarkdown     bool          `yaml:"use_markdown"`
	MinCharsPerPage int           `yaml:"min_chars_per_page"`
	VLMFallback     bool          `yaml:"vlm_fallback"`
	VLMDPI          int           `yaml:"vlm_dpi"`
	VLMModel        string        `yaml:"vlm_model"`
	VLMTimeout      time.Duration `yaml:"vlm_timeout"`
	VLMMaxPages     int           `yaml:"vlm_max_pages"` // 0 means all pages
	VLMWorkers      int           `yaml:"vlm_workers"`
}

// VLMConfig configures the vision model used for image descriptions.
type VLMConfig struct {
	Model string `yaml:"model"`
}

// ASRConfig configures speech-to-text transcription.
type ASRConfig struct {
	// WhisperHost is the whisper-server endpoint
	// (OpenAI-compatible /v1/audio/transcriptions).
	WhisperHost string        `yaml:"whisper_host"`
	Language    string        `yaml:"language"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SearchConfig configures hybrid search.
type SearchConfig struct {
	// RRFConstant is the RRF smoothing parameter (k). Default 60.
	RRFConstant int `yaml:"rrf_constant"`
	// RerankerModel enables reranking when non-empty.
	RerankerModel string `yaml:"reranker_model"`
	// Rerank toggles the rerank stage.
	Rerank bool `yaml:"rerank"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Timeout: 120 * time.Second,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 2602,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embedding: EmbeddingConfig{
			Model:      "bge-m3",
			Dimensions: 1024,
			BatchSize:  32,
			CacheSize:  1000,
		},
		Chunking: ChunkingConfig{
			Size:    800,
			Overlap: 200,
		},
		PDF: PDFConfig{
			UseMarkdown:     true,
			MinCharsPerPage: 100,
			VLMFallback:     true,
			VLMDPI:          150,
			VLMModel:        "minicpm-v",
			VLMTimeout:      60 * time.Second,
			VLMMaxPages:     20,
			VLMWorkers:      2,
		},
		VLM: VLMConfig{
			Model: "llava:7b",
		},
		ASR: ASRConfig{
			WhisperHost: "http://localhost:8090",
			Language:    "",
			Timeout:     10 * time.Minute,
		},
		Search: SearchConfig{
			RRFConstant:   60,
			RerankerModel: "bge-reranker-v2-m3",
			Rerank:        false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultDataDir returns ~/.local/share/loclens, falling back to a temp dir
// when the home directory is unavailable.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "loclens")
	}
	return filepath.Join(home, ".local", "share", "loclens")
}

// Load builds the configuration. Precedence, lowest to highest:
// defaults, YAML file at configPath (optional), .env in the working
// directory (loaded into the process environment without overriding
// variables already set), environment variables.
func Load(configPath string) (*Config, error) {
	cfg := NewConfig()

	if configPath != "" {
		if err := cfg.loadYAML(configPath); err != nil {
			return nil, err
		}
	}

	// Missing .env is fine; godotenv never overrides existing env vars.
	_ = godotenv.Load()

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lenserr.New(lenserr.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), err)
		}
		return lenserr.Wrap(lenserr.ErrCodeConfigInvalid, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return lenserr.New(lenserr.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid YAML in %s: %v", path, err), err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Ollama.Host, "OLLAMA_HOST")
	setString(&c.Server.Host, "API_HOST")
	setInt(&c.Server.Port, "API_PORT")
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = expandHome(v)
	}
	setString(&c.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&c.Embedding.Dimensions, "EMBEDDING_DIMENSIONS")
	setInt(&c.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")
	setInt(&c.Chunking.Size, "CHUNK_SIZE")
	setInt(&c.Chunking.Overlap, "CHUNK_OVERLAP")
	setBool(&c.PDF.UseMarkdown, "PDF_USE_MARKDOWN")
	setInt(&c.PDF.MinCharsPerPage, "PDF_MIN_CHARS_PER_PAGE")
	setBool(&c.PDF.VLMFallback, "PDF_VLM_FALLBACK")
	setInt(&c.PDF.VLMDPI, "PDF_VLM_DPI")
	setString(&c.PDF.VLMModel, "PDF_VLM_MODEL")
	setSeconds(&c.PDF.VLMTimeout, "PDF_VLM_TIMEOUT")
	setInt(&c.PDF.VLMMaxPages, "PDF_VLM_MAX_PAGES")
	setInt(&c.PDF.VLMWorkers, "PDF_VLM_WORKERS")
	setString(&c.VLM.Model, "VLM_MODEL")
	setString(&c.ASR.WhisperHost, "WHISPER_HOST")
	setString(&c.ASR.Language, "WHISPER_LANGUAGE")
	setInt(&c.Search.RRFConstant, "RRF_CONSTANT")
	setString(&c.Search.RerankerModel, "RERANKER_MODEL")
	setBool(&c.Search.Rerank, "SEARCH_RERANK")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.File, "LOG_FILE")
}

// Validate checks invariants and returns an actionable error on violation.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return lenserr.ConfigError(
			fmt.Sprintf("API_PORT must be 1-65535, got %d", c.Server.Port), nil)
	}
	if c.Chunking.Size <= 0 {
		return lenserr.ConfigError(
			fmt.Sprintf("CHUNK_SIZE must be positive, got %d", c.Chunking.Size), nil)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return lenserr.ConfigError(
			fmt.Sprintf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.Chunking.Overlap), nil).
			WithSuggestion("set CHUNK_OVERLAP smaller than CHUNK_SIZE")
	}
	if c.Embedding.Dimensions <= 0 {
		return lenserr.ConfigError(
			fmt.Sprintf("EMBEDDING_DIMENSIONS must be positive, got %d", c.Embedding.Dimensions), nil)
	}
	if c.PDF.VLMMaxPages < 0 {
		return lenserr.ConfigError(
			fmt.Sprintf("PDF_VLM_MAX_PAGES must be >= 0, got %d", c.PDF.VLMMaxPages), nil).
			WithSuggestion("use 0 to process all pages")
	}
	if c.PDF.VLMWorkers < 1 {
		return lenserr.ConfigError(
			fmt.Sprintf("PDF_VLM_WORKERS must be >= 1, got %d", c.PDF.VLMWorkers), nil)
	}
	if c.Search.RRFConstant <= 0 {
		return lenserr.ConfigError(
			fmt.Sprintf("RRF_CONSTANT must be positive, got %d", c.Search.RRFConstant), nil)
	}
	return nil
}

// DatabasePath returns the SQLite database path under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "loclens.db")
}

// VectorDir returns the vector store directory under the data dir.
func (c *Config) VectorDir() string {
	return filepath.Join(c.Storage.DataDir, "vectors")
}

// EnsureDataDir creates the data directory tree.
func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.Storage.DataDir, c.VectorDir(), filepath.Join(c.Storage.DataDir, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return lenserr.Wrap(lenserr.ErrCodeConfigInvalid, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			*dst = true
		case "false", "0", "no", "off":
			*dst = false
		}
	}
}

// setSeconds parses a bare number of seconds, matching the env convention
// of PDF_VLM_TIMEOUT=60.
func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}
