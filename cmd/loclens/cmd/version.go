package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loclens/loclens/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var jsonOutput bool
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case short:
				fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return nil
			case jsonOutput:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			default:
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
