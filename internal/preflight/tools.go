package preflight

import (
	"fmt"
	"os/exec"
)

// externalTools are the binaries the extractors shell out to. All warn-only:
// each one degrades a single media type, never the whole pipeline.
var externalTools = []struct {
	binary  string
	purpose string
}{
	{"ffmpeg", "video audio-track extraction"},
	{"ffprobe", "audio/video metadata"},
	{"pdftoppm", "PDF page rendering for the VLM fallback"},
}

func defaultLookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// CheckTools verifies the external binaries used by the media extractors.
func (c *Checker) CheckTools() []CheckResult {
	results := make([]CheckResult, 0, len(externalTools))
	for _, tool := range externalTools {
		result := CheckResult{
			Name:     "tool_" + tool.binary,
			Required: false,
		}

		path, err := c.lookPath(tool.binary)
		if err != nil {
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("%s not found (%s unavailable)", tool.binary, tool.purpose)
		} else {
			result.Status = StatusPass
			result.Message = path
		}
		results = append(results, result)
	}
	return results
}
