package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	stateEvent    string
	stateCategory string
	stateLimit    int
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the run event log recorded in the state database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runLog == nil {
			return errors.New("--state-db is required for the state command")
		}
		return runLog.DisplayHistory(cmd.Context(), stateEvent, stateCategory, stateLimit)
	},
}

func init() {
	stateCmd.Flags().StringVar(&stateEvent, "event", "", "Only show this event type (discovered, download_start, download_end, skip, queue, error)")
	stateCmd.Flags().StringVar(&stateCategory, "category", "", "Only show events from this extractor category")
	stateCmd.Flags().IntVar(&stateLimit, "limit", 50, "Maximum records to display")
}
