package app

import (
	"fmt"
	"time"

	"github.com/brensch/harvest/internal/status"
)

// FileProgressMsg updates the row for one file being transferred.
type FileProgressMsg struct {
	Name    string // display name, also the row key
	Status  string // "Downloading", "Complete", "Skipped", "Error"
	Current int64  // bytes written so far
	Total   int64  // announced size, -1 when unknown
	ErrMsg  string
}

// JobStartedMsg announces a new input URL being worked on.
type JobStartedMsg struct {
	URL string
}

// RunFinishedMsg signals that every job has completed.
type RunFinishedMsg struct {
	Status    status.Status
	StartTime time.Time
	EndTime   time.Time
}

func (fp FileProgressMsg) String() string {
	return fmt.Sprintf("FileProgress %s: %s", fp.Name, fp.Status)
}
func (rf RunFinishedMsg) String() string {
	return fmt.Sprintf("RunFinished status=%d", int(rf.Status))
}
