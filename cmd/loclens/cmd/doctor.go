package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/internal/preflight"
)

// doctorOptions holds CLI flags for doctor.
type doctorOptions struct {
	verbose    bool
	jsonOutput bool
}

func newDoctorCmd() *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose system and dependency problems",
		Long: `Run all system checks and report the results.

Checks disk space, memory, file descriptors, write permissions, the
Ollama server and its models, the whisper-server, and the external
tools used for media extraction (ffmpeg, ffprobe, pdftoppm).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show details for passing checks")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// doctorReport is the JSON shape of the doctor output.
type doctorReport struct {
	Status string        `json:"status"`
	Checks []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Required bool   `json:"required"`
}

func runDoctor(ctx context.Context, cmd *cobra.Command, opts doctorOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(cfg,
		preflight.WithVerbose(opts.verbose),
		preflight.WithOutput(cmd.OutOrStdout()))
	results := checker.RunAll(ctx)

	// Refresh the marker so serve skips or repeats the checks accordingly.
	if checker.HasCriticalFailures(results) {
		if err := preflight.ClearMarker(cfg.Storage.DataDir); err != nil {
			slog.Debug("failed to clear preflight marker", slog.String("error", err.Error()))
		}
	} else {
		if err := preflight.MarkPassed(cfg.Storage.DataDir); err != nil {
			slog.Debug("failed to write preflight marker", slog.String("error", err.Error()))
		}
	}

	if opts.jsonOutput {
		report := doctorReport{Status: checker.SummaryStatus(results)}
		for _, r := range results {
			report.Checks = append(report.Checks, doctorCheck{
				Name:     r.Name,
				Status:   r.Status.String(),
				Message:  r.Message,
				Details:  r.Details,
				Required: r.Required,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("critical checks failed")
	}
	return nil
}
