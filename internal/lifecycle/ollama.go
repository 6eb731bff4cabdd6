// Package lifecycle manages the Ollama runtime the indexer depends on:
// detection, startup, model pulling, and readiness checks.
package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// StartupTimeout is how long to wait for Ollama to come up.
	StartupTimeout = 30 * time.Second

	// ReadyPollInterval is the initial polling interval for WaitForReady.
	ReadyPollInterval = 100 * time.Millisecond

	// MaxReadyPollInterval caps the exponential backoff.
	MaxReadyPollInterval = 2 * time.Second

	// PullTimeout bounds a single model pull. Vision models run to several GB.
	PullTimeout = 15 * time.Minute
)

// Manager handles Ollama lifecycle operations.
type Manager struct {
	host   string
	client *http.Client

	// Swappable for tests.
	execCommand func(name string, args ...string) *exec.Cmd
	lookPath    func(file string) (string, error)
	fileExists  func(path string) bool
}

// Status is a snapshot of the Ollama installation.
type Status struct {
	Installed     bool
	InstalledPath string
	Running       bool
	Models        []string
	// MissingModels lists requested models not yet pulled.
	MissingModels []string
}

// PullProgress reports model pull progress.
type PullProgress struct {
	Status    string
	Digest    string
	Total     int64
	Completed int64
	Percent   float64
}

// EnsureOpts configures EnsureReady.
type EnsureOpts struct {
	// AutoStart starts the Ollama server when installed but not running.
	AutoStart bool
	// AutoPull pulls missing models.
	AutoPull bool
	// ProgressFunc receives pull progress updates.
	ProgressFunc func(PullProgress)
}

// DefaultEnsureOpts enables both automatic startup and pulling.
func DefaultEnsureOpts() EnsureOpts {
	return EnsureOpts{AutoStart: true, AutoPull: true}
}

// NewManager creates a manager for the given Ollama host. An empty host uses
// the default local endpoint.
func NewManager(host string) *Manager {
	if host == "" {
		host = DefaultHost
	}
	return &Manager{
		host:        strings.TrimSuffix(host, "/"),
		client:      &http.Client{Timeout: 10 * time.Second},
		execCommand: exec.Command,
		lookPath:    exec.LookPath,
		fileExists:  fileExists,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Host returns the configured Ollama endpoint.
func (m *Manager) Host() string {
	return m.host
}

// IsRemoteHost reports whether the endpoint points somewhere other than
// localhost. Start and install checks are skipped for remote hosts.
func (m *Manager) IsRemoteHost() bool {
	return !strings.Contains(m.host, "localhost") && !strings.Contains(m.host, "127.0.0.1")
}

// IsInstalled checks for an Ollama binary or app bundle on this machine.
func (m *Manager) IsInstalled() (bool, string) {
	if path, err := m.lookPath("ollama"); err == nil {
		return true, path
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Ollama.app",
			filepath.Join(os.Getenv("HOME"), "Applications", "Ollama.app"),
		}
	case "linux":
		candidates = []string{
			"/usr/local/bin/ollama",
			"/usr/bin/ollama",
			filepath.Join(os.Getenv("HOME"), ".local", "bin", "ollama"),
		}
	}
	for _, p := range candidates {
		if m.fileExists(p) {
			return true, p
		}
	}
	return false, ""
}

// IsRunning checks if the Ollama API is responding.
func (m *Manager) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models available on the server.
func (m *Manager) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, mdl := range result.Models {
		models[i] = mdl.Name
	}
	return models, nil
}

// HasModel checks if a model is available. Tag-less names match any tag of
// the same base model.
func (m *Manager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return containsModel(models, model), nil
}

func containsModel(models []string, model string) bool {
	modelLower := strings.ToLower(model)
	modelBase := strings.Split(modelLower, ":")[0]

	for _, available := range models {
		availableLower := strings.ToLower(available)
		availableBase := strings.Split(availableLower, ":")[0]
		if availableLower == modelLower || availableBase == modelBase {
			return true
		}
	}
	return false
}

// Check returns a status snapshot for the given required models.
func (m *Manager) Check(ctx context.Context, models ...string) (*Status, error) {
	status := &Status{}

	status.Installed, status.InstalledPath = m.IsInstalled()
	status.Running = m.IsRunning()
	if !status.Running {
		status.MissingModels = append(status.MissingModels, models...)
		return status, nil
	}

	available, err := m.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	status.Models = available

	for _, model := range models {
		if !containsModel(available, model) {
			status.MissingModels = append(status.MissingModels, model)
		}
	}
	return status, nil
}

// Start launches the Ollama server in the background. No-op when already
// running or when the host is remote.
func (m *Manager) Start() error {
	if m.IsRemoteHost() {
		return nil
	}
	if m.IsRunning() {
		return nil
	}

	installed, path := m.IsInstalled()
	if !installed {
		return &NotInstalledError{}
	}

	if runtime.GOOS == "darwin" && strings.HasSuffix(path, ".app") {
		cmd := m.execCommand("open", "-a", path)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to open Ollama.app: %w", err)
		}
		return nil
	}

	cmd := m.execCommand(path, "serve")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ollama serve: %w", err)
	}
	return nil
}

// WaitForReady polls the API with exponential backoff until it responds or
// the timeout expires.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := ReadyPollInterval

	for {
		if m.IsRunning() {
			return nil
		}
		if time.Now().After(deadline) {
			return &NotRunningError{Host: m.host}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > MaxReadyPollInterval {
			interval = MaxReadyPollInterval
		}
	}
}

// PullModel downloads a model, streaming progress to progressFunc.
func (m *Manager) PullModel(ctx context.Context, model string, progressFunc func(PullProgress)) error {
	ctx, cancel := context.WithTimeout(ctx, PullTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return fmt.Errorf("failed to marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.host+"/api/pull", strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// No client timeout here: the pull stream outlives it. The context
	// deadline bounds the whole operation instead.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to start model pull: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var progress struct {
			Status    string `json:"status"`
			Digest    string `json:"digest"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &progress); err != nil {
			continue
		}
		if progress.Error != "" {
			return fmt.Errorf("pull failed: %s", progress.Error)
		}
		if progressFunc != nil {
			percent := 0.0
			if progress.Total > 0 {
				percent = float64(progress.Completed) / float64(progress.Total) * 100
			}
			progressFunc(PullProgress{
				Status:    progress.Status,
				Digest:    progress.Digest,
				Total:     progress.Total,
				Completed: progress.Completed,
				Percent:   percent,
			})
		}
	}
	return scanner.Err()
}

// EnsureReady brings Ollama to a usable state for the given models: running,
// with every model pulled. Behavior beyond checking is gated by opts.
func (m *Manager) EnsureReady(ctx context.Context, models []string, opts EnsureOpts) error {
	if !m.IsRunning() {
		if m.IsRemoteHost() {
			return &NotRunningError{Host: m.host}
		}
		if !opts.AutoStart {
			return &NotRunningError{Host: m.host}
		}
		if installed, _ := m.IsInstalled(); !installed {
			return &NotInstalledError{}
		}
		if err := m.Start(); err != nil {
			return err
		}
		if err := m.WaitForReady(ctx, StartupTimeout); err != nil {
			return err
		}
	}

	for _, model := range models {
		has, err := m.HasModel(ctx, model)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if !opts.AutoPull {
			return &ModelNotFoundError{Model: model}
		}
		if err := m.PullModel(ctx, model, opts.ProgressFunc); err != nil {
			return fmt.Errorf("failed to pull %s: %w", model, err)
		}
	}
	return nil
}

// NotInstalledError indicates no Ollama installation was found.
type NotInstalledError struct{}

func (e *NotInstalledError) Error() string {
	return "ollama is not installed"
}

// NotRunningError indicates the Ollama API is not responding.
type NotRunningError struct {
	Host string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("ollama is not running at %s", e.Host)
}

// ModelNotFoundError indicates a required model is not pulled.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s is not available, run: ollama pull %s", e.Model, e.Model)
}

// InstallInstructions returns platform-specific installation guidance.
func InstallInstructions() string {
	switch runtime.GOOS {
	case "darwin":
		return "Install Ollama from https://ollama.com/download or: brew install ollama"
	case "linux":
		return "Install Ollama with: curl -fsSL https://ollama.com/install.sh | sh"
	default:
		return "Install Ollama from https://ollama.com/download"
	}
}
