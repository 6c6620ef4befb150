package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/harvest/internal/job"
	"github.com/brensch/harvest/internal/status"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate URL...",
	Short: "Walk the message stream and report what a run would download.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var total status.Status
		for _, url := range args {
			j, err := job.NewSimulationJob(url, appConfig, rootLogger)
			if err != nil {
				rootLogger.Error("no extractor matched", slog.String("url", url))
				total |= status.NoExtractor
				continue
			}
			st, err := j.Run(cmd.Context())
			total |= st
			if err != nil {
				rootLogger.Error("aborting", slog.Any("error", err))
				total |= status.Error
				break
			}
			rootLogger.Info("simulation finished",
				slog.String("url", url),
				slog.Int("results", j.Results),
			)
		}
		exitStatus = total.ExitCode()
		return nil
	},
}
