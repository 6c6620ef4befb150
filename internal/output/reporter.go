// Package output routes per-file progress and results to whatever
// front end is active: structured logs by default, a terminal UI when
// requested, or nothing at all in simulations.
package output

import "log/slog"

// Reporter receives download lifecycle notifications.
type Reporter interface {
	// Success is called after a file has been moved into place.
	Success(path string)
	// Skip is called when a file is skipped without transfer.
	Skip(path string)
	// Progress is called during transfer. total is -1 when the
	// server did not announce a content length.
	Progress(name string, current, total int64)
}

// LogReporter writes results through slog and stays quiet about
// intermediate progress.
type LogReporter struct {
	Log *slog.Logger
}

func (r *LogReporter) Success(path string) {
	r.Log.Info("downloaded", slog.String("path", path))
}

func (r *LogReporter) Skip(path string) {
	r.Log.Info("skipped", slog.String("path", path))
}

func (r *LogReporter) Progress(name string, current, total int64) {}

// NullReporter drops everything.
type NullReporter struct{}

func (NullReporter) Success(path string)                        {}
func (NullReporter) Skip(path string)                           {}
func (NullReporter) Progress(name string, current, total int64) {}
