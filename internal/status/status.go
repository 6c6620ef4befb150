package status

import "strings"

// Status is a bitmask of outcome flags accumulated over a job tree.
// It is OR-combined across parent and child jobs and becomes the
// process exit code.
type Status int

const (
	// OK means every item was downloaded or legitimately skipped.
	OK Status = 0
	// Error marks an unexpected error that stopped a job's message loop.
	Error Status = 1
	// Download marks at least one item that failed all download attempts.
	Download Status = 4
	// Format marks a malformed format string or filter expression.
	Format Status = 32
	// NoExtractor marks an input URL no extractor pattern matched.
	NoExtractor Status = 64
	// OSFatal marks an operating system level failure (disk, permissions).
	OSFatal Status = 128
)

// ExitCode returns the value to pass to os.Exit.
func (s Status) ExitCode() int { return int(s) }

func (s Status) String() string {
	if s == OK {
		return "ok"
	}
	var parts []string
	for _, f := range []struct {
		bit  Status
		name string
	}{
		{Error, "error"},
		{Download, "download-failed"},
		{Format, "format"},
		{NoExtractor, "no-extractor"},
		{OSFatal, "os-fatal"},
	} {
		if s&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}
