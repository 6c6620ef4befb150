package cmd

import (
	"github.com/spf13/cobra"

	"github.com/brensch/harvest/internal/inspector"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize the parquet manifests under the base directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspector.InspectManifests(cmd.Context(), rootLogger, appConfig.BaseDirectory)
	},
}
