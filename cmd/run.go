package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/harvest/internal/app"
	"github.com/brensch/harvest/internal/db"
	"github.com/brensch/harvest/internal/job"
	"github.com/brensch/harvest/internal/output"
	"github.com/brensch/harvest/internal/status"
)

var useTUI bool

var runCmd = &cobra.Command{
	Use:   "run URL...",
	Short: "Download everything the given URLs resolve to.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if useTUI {
			return runWithTUI(cmd.Context(), args)
		}
		st := runJobs(cmd.Context(), args, &output.LogReporter{Log: rootLogger}, nil)
		exitStatus = st.ExitCode()
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Render live per-file progress instead of log lines")
}

// runJobs executes one job tree per URL sequentially and ORs the
// results. A terminate signal ends one URL's tree and moves on to the
// next input; a restart re-runs the same URL from scratch. notify,
// when set, receives lifecycle messages for the TUI.
func runJobs(ctx context.Context, urls []string, out output.Reporter, notify func(tea.Msg)) status.Status {
	var total status.Status
	for _, url := range urls {
		if notify != nil {
			notify(app.JobStartedMsg{URL: url})
		}
		if runLog != nil {
			runLog.Event(ctx, url, "", db.EventDiscovered, "", "", nil)
		}

		for {
			j, err := job.New(url, appConfig, rootLogger, runLog, out)
			if err != nil {
				rootLogger.Error("no extractor matched", slog.String("url", url))
				total |= status.NoExtractor
				break
			}

			st, err := j.Run(ctx)
			total |= st
			if err == nil {
				break
			}

			var exit *status.ExitError
			if errors.As(err, &exit) {
				if exit.Code != 0 {
					total |= status.Status(exit.Code)
				}
				return total
			}
			if errors.Is(err, status.ErrTerminate) {
				rootLogger.Info("terminating", slog.String("url", url))
				break
			}
			if errors.Is(err, status.ErrRestart) {
				rootLogger.Info("restarting", slog.String("url", url))
				continue
			}
			rootLogger.Error("aborting run", slog.Any("error", err))
			total |= status.Error
			return total
		}
	}
	return total
}

// runWithTUI runs the jobs in a goroutine behind a bubbletea program
// that renders live progress.
func runWithTUI(ctx context.Context, urls []string) error {
	model := app.NewModel()
	program := tea.NewProgram(model)
	reporter := &app.Reporter{Program: program}

	start := time.Now()
	go func() {
		st := runJobs(ctx, urls, reporter, func(msg tea.Msg) { program.Send(msg) })
		program.Send(app.RunFinishedMsg{Status: st, StartTime: start, EndTime: time.Now()})
	}()

	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	if m, ok := final.(*app.Model); ok {
		exitStatus = m.FinalStatus().ExitCode()
	}
	return nil
}
