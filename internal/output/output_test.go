package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Status lines
// =============================================================================

func TestStatus_WithIcon(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Status("🔍", "searching")

	assert.Equal(t, "🔍 searching\n", buf.String())
}

func TestStatus_EmptyIconIndents(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Status("", "detail line")

	assert.Equal(t, "   detail line\n", buf.String())
}

func TestStatusf_FormatsMessage(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Statusf("📂", "indexed %d files from %s", 42, "/home/user/docs")

	assert.Contains(t, buf.String(), "indexed 42 files from /home/user/docs")
}

func TestSeverityHelpers(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Successf("done in %dms", 12)
	w.Warningf("%s not reachable", "whisper")
	w.Errorf("failed: %v", "boom")

	out := buf.String()
	assert.Contains(t, out, "✅ done in 12ms")
	assert.Contains(t, out, "whisper not reachable")
	assert.Contains(t, out, "❌ failed: boom")
}

func TestNewline(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Newline()

	assert.Equal(t, "\n", buf.String())
}

// =============================================================================
// Progress bar
// =============================================================================

func TestProgress_PrintsPercentAndMessage(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Progress(50, 100, "pulling bge-m3")

	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "pulling bge-m3")
	assert.False(t, strings.HasSuffix(out, "\n"))
}

func TestProgress_CompleteEndsLine(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Progress(100, 100, "done")

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestProgress_ZeroTotalIsSilent(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Progress(0, 0, "unknown size")

	assert.Empty(t, buf.String())
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name       string
		current    int
		total      int
		width      int
		wantFilled int
	}{
		{"empty", 0, 100, 10, 0},
		{"half", 50, 100, 10, 5},
		{"full", 100, 100, 10, 10},
		{"quarter", 25, 100, 20, 5},
		{"overshoot clamps", 150, 100, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFilled, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}
