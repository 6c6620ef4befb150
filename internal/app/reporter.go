package app

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
)

// Reporter adapts download notifications into messages for a running
// tea.Program.
type Reporter struct {
	Program *tea.Program
}

func (r *Reporter) Success(path string) {
	r.Program.Send(FileProgressMsg{Name: filepath.Base(path), Status: "Complete"})
}

func (r *Reporter) Skip(path string) {
	r.Program.Send(FileProgressMsg{Name: filepath.Base(path), Status: "Skipped"})
}

func (r *Reporter) Progress(name string, current, total int64) {
	r.Program.Send(FileProgressMsg{Name: name, Status: "Downloading", Current: current, Total: total})
}
