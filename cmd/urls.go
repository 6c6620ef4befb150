package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brensch/harvest/internal/job"
	"github.com/brensch/harvest/internal/status"
)

var urlDepth int

var urlsCmd = &cobra.Command{
	Use:   "urls URL...",
	Short: "Print resolved download URLs without fetching anything.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var total status.Status
		for _, url := range args {
			j, err := job.NewURLJob(url, appConfig, rootLogger, os.Stdout, urlDepth)
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
		}
		exitStatus = total.ExitCode()
		return nil
	},
}

func init() {
	urlsCmd.Flags().IntVar(&urlDepth, "depth", 1, "How many levels of queue URLs to resolve before printing them as-is")
}
