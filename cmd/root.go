package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/harvest/internal/config"
	"github.com/brensch/harvest/internal/db"
)

var (
	// Config flags, bound in init()
	baseDir          string
	archivePath      string
	archivePrefix    string
	archiveFormat    string
	skipPolicy       string
	noDownload       bool
	noFallback       bool
	sleepBetween     time.Duration
	imageRange       string
	imageFilter      string
	chapterRange     string
	chapterFilter    string
	whitelist        []string
	blacklist        []string
	parentDirectory  bool
	parentMetadata   string
	parentSkip       bool
	categoryTransfer bool
	urlMetadataKey   string
	unsupportedFile  string
	postprocessors   []string
	stateDBPath      string
	logFormat        string
	logLevel         string
	logOutput        string

	// Populated in PersistentPreRunE
	rootLogger *slog.Logger
	runLog     *db.RunLog
	appConfig  *config.Config

	// exitStatus accumulates over every executed job; Execute returns it.
	exitStatus int
)

var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Download files discovered by site extractors, with dedup and post-processing.",
	Long: `Harvest resolves each input URL to an extractor, walks the message
stream it produces and downloads every file, deduplicating against a
persistent archive and firing configured postprocessors along the way.

The primary command is 'run'. 'urls' prints download URLs without
fetching, 'simulate' reports what a run would do, and 'state' shows the
run event log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		appConfig = &config.Config{
			BaseDirectory:    baseDir,
			Archive:          archivePath,
			ArchivePrefix:    archivePrefix,
			ArchiveFormat:    archiveFormat,
			Skip:             skipPolicy,
			Download:         !noDownload,
			Fallback:         !noFallback,
			Sleep:            sleepBetween,
			ImageRange:       imageRange,
			ImageFilter:      imageFilter,
			ChapterRange:     chapterRange,
			ChapterFilter:    chapterFilter,
			Whitelist:        whitelist,
			Blacklist:        blacklist,
			ParentDirectory:  parentDirectory,
			ParentMetadata:   parentMetadata,
			ParentSkip:       parentSkip,
			CategoryTransfer: categoryTransfer,
			MetadataURLKey:   urlMetadataKey,
			UnsupportedFile:  unsupportedFile,
			StateDB:          stateDBPath,
		}
		for _, name := range postprocessors {
			appConfig.Postprocessors = append(appConfig.Postprocessors, config.Postprocessor{Name: name})
		}

		if err := os.MkdirAll(appConfig.BaseDirectory, 0o755); err != nil {
			return fmt.Errorf("failed to create base directory %s: %w", appConfig.BaseDirectory, err)
		}
		if appConfig.Archive != "" {
			if err := os.MkdirAll(filepath.Dir(appConfig.Archive), 0o755); err != nil {
				return fmt.Errorf("failed to create archive directory: %w", err)
			}
		}

		if appConfig.StateDB != "" {
			rootLogger.Info("opening run event log", slog.String("path", appConfig.StateDB))
			var err error
			runLog, err = db.Open(appConfig.StateDB)
			if err != nil {
				return fmt.Errorf("failed to open run event log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if runLog != nil {
			if err := runLog.Close(); err != nil {
				rootLogger.Error("failed to close run event log cleanly", slog.Any("error", err))
			}
		}
		return nil
	},
}

// Execute runs the CLI and returns the process exit code: the OR of
// every job status, or 1 on command errors.
func Execute() int {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(urlsCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("command failed", slog.Any("error", err))
		} else {
			fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		}
		if exitStatus == 0 {
			return 1
		}
	}
	return exitStatus
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&baseDir, "base-dir", "b", config.DefaultBaseDirectory, "Root directory for downloaded files")
	pf.StringVar(&archivePath, "archive", "", "SQLite file recording completed items for cross-run dedup")
	pf.StringVar(&archivePrefix, "archive-prefix", "", "Prefix for archive keys (defaults to the extractor category)")
	pf.StringVar(&archiveFormat, "archive-format", "", "Archive key template overriding the extractor's own")
	pf.StringVar(&skipPolicy, "skip", "true", `Skip policy: true, false, enumerate, abort[:N], terminate[:N], exit[:N]`)
	pf.BoolVar(&noDownload, "no-download", false, "Resolve and record items without transferring bytes")
	pf.BoolVar(&noFallback, "no-fallback", false, "Do not try alternate URLs after a failed download")
	pf.DurationVar(&sleepBetween, "sleep", 0, "Delay between downloads (e.g. 500ms, 2s)")
	pf.StringVar(&imageRange, "range", "", `File index range, e.g. "5", "8-20", "1:24:3"`)
	pf.StringVar(&imageFilter, "filter", "", "Boolean expression files must satisfy")
	pf.StringVar(&chapterRange, "chapter-range", "", "Queue index range")
	pf.StringVar(&chapterFilter, "chapter-filter", "", "Boolean expression queue targets must satisfy")
	pf.StringSliceVar(&whitelist, "whitelist", nil, "Categories allowed when resolving queue URLs")
	pf.StringSliceVar(&blacklist, "blacklist", nil, "Categories denied when resolving queue URLs")
	pf.BoolVar(&parentDirectory, "parent-directory", false, "Child jobs reuse the parent's resolved directory")
	pf.StringVar(&parentMetadata, "parent-metadata", "", `Propagate queue metadata to children: "*" merges flat, any other value nests under that key`)
	pf.BoolVar(&parentSkip, "parent-skip", false, "Child jobs share the parent's consecutive-skip counter")
	pf.BoolVar(&categoryTransfer, "category-transfer", false, "Children report under the parent's category")
	pf.StringVar(&urlMetadataKey, "url-metadata", "", "Metadata key to stamp each message's source URL into")
	pf.StringVar(&unsupportedFile, "unsupported-file", "", "File collecting queue URLs no extractor claimed")
	pf.StringSliceVar(&postprocessors, "postprocessor", nil, "Postprocessors to run (metadata, zip, exec, parquet)")
	pf.StringVarP(&stateDBPath, "state-db", "d", "", "DuckDB file recording the run event log")
	pf.StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}
