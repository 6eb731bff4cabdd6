package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records that preflight checks passed, so startup can skip them.
const MarkerFile = ".preflight-passed"

// NeedsCheck returns true when no marker file exists in the data directory.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed writes the marker file with the current timestamp.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), content, 0o644)
}

// ClearMarker removes the marker, forcing a re-check on the next run.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks last passed, zero when unknown.
func MarkerAge(dataDir string) time.Duration {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}
	return time.Since(t)
}
