package preflight

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loclens/loclens/internal/lifecycle"
)

// CheckOllama verifies the Ollama endpoint is reachable and carries the
// models the pipeline needs: the embedder, the image VLM and the PDF VLM.
// Required, since nothing can be indexed without embeddings.
func (c *Checker) CheckOllama(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "ollama",
		Required: true,
	}

	manager := lifecycle.NewManager(c.cfg.Ollama.Host)
	models := []string{c.cfg.Embedding.Model, c.cfg.VLM.Model}
	if c.cfg.PDF.VLMFallback {
		models = append(models, c.cfg.PDF.VLMModel)
	}

	status, err := manager.Check(ctx, models...)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot query Ollama: %v", err)
		return result
	}

	if !status.Running {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("not running at %s", manager.Host())
		if !status.Installed && !manager.IsRemoteHost() {
			result.Details = lifecycle.InstallInstructions()
		}
		return result
	}

	if len(status.MissingModels) > 0 {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("missing models: %s", strings.Join(status.MissingModels, ", "))
		result.Details = "Pull them with: ollama pull " + strings.Join(status.MissingModels, " && ollama pull ")
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("running at %s with %d model(s)", manager.Host(), len(status.Models))
	return result
}

// CheckWhisper probes the whisper-server endpoint. Warn-only: without it
// audio and video files are skipped but everything else still indexes.
func (c *Checker) CheckWhisper(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "whisper",
		Required: false,
	}

	host := strings.TrimSuffix(c.cfg.ASR.WhisperHost, "/")
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, host+"/", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid whisper host %q: %v", host, err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("not reachable at %s (audio and video will be skipped)", host)
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("reachable at %s", host)
	return result
}
