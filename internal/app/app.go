// Package app is the optional terminal front end for a run. It renders
// one row per file with live byte counts while the jobs execute in a
// background goroutine and feed the model through a tea.Program.
package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/harvest/internal/status"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	urlStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	barStyle     = lipgloss.NewStyle().Padding(0, 1)
	headerStyle  = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	rowStatStyle = map[string]lipgloss.Style{
		"Downloading": lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"Complete":    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"Skipped":     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		"Error":       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// FileProgress is the rendered state of one file row.
type FileProgress struct {
	Name    string
	Status  string
	Current int64
	Total   int64
	ErrMsg  string
	Start   time.Time
	Elapsed time.Duration
}

type Model struct {
	State       AppState
	spinner     spinner.Model
	fileBar     progress.Model
	finalStatus status.Status

	mu         sync.RWMutex
	files      map[string]*FileProgress
	fileOrder  []string
	currentURL string
	done       int
	skipped    int
	failed     int

	termWidth  int
	termHeight int
	Quitting   bool
}

func NewModel() *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Model{
		State:   Running,
		spinner: s,
		fileBar: progress.New(progress.WithDefaultGradient()),
		files:   make(map[string]*FileProgress),
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// FinalStatus returns the status carried by RunFinishedMsg, or zero
// when the user quit before the run completed.
func (m *Model) FinalStatus() status.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finalStatus
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.Quitting = true
			m.State = Exiting
			return m, tea.Quit
		}
		if m.State == Finished && msg.Type == tea.KeyEnter {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.fileBar.Width = max(0, m.termWidth-30)
	case JobStartedMsg:
		m.mu.Lock()
		m.currentURL = msg.URL
		m.mu.Unlock()
	case FileProgressMsg:
		m.applyFileProgress(msg)
	case RunFinishedMsg:
		m.mu.Lock()
		m.finalStatus = msg.Status
		m.State = Finished
		m.mu.Unlock()
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.fileBar.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.fileBar = newModel
			cmds = append(cmds, frameCmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) applyFileProgress(msg FileProgressMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp, exists := m.files[msg.Name]
	if !exists {
		fp = &FileProgress{Name: msg.Name, Start: time.Now()}
		m.files[msg.Name] = fp
		m.fileOrder = append(m.fileOrder, msg.Name)
	}
	fp.Status = msg.Status
	fp.ErrMsg = msg.ErrMsg
	if msg.Current > 0 {
		fp.Current = msg.Current
	}
	if msg.Total != 0 {
		fp.Total = msg.Total
	}
	switch msg.Status {
	case "Complete":
		m.done++
		fp.Elapsed = time.Since(fp.Start)
	case "Skipped":
		m.skipped++
		fp.Elapsed = time.Since(fp.Start)
	case "Error":
		m.failed++
		fp.Elapsed = time.Since(fp.Start)
	}
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("--- harvest ---"))
	b.WriteString("\n\n")

	switch m.State {
	case Running, Finished:
		b.WriteString(m.viewProgress())
	case Exiting:
		b.WriteString(infoStyle.Render("Exiting..."))
	}

	b.WriteString("\n")
	if m.State == Running {
		b.WriteString(infoStyle.Render("Downloading... 'q' or Ctrl+C to abort."))
	} else if m.State == Finished {
		b.WriteString(infoStyle.Render("Done. Press Enter or 'q' to exit."))
	}
	return b.String()
}

func (m *Model) viewProgress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder

	if m.State == Running {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), urlStyle.Render(m.currentURL)))
	} else {
		b.WriteString(fmt.Sprintf("Finished with status %d\n", int(m.finalStatus)))
	}
	b.WriteString(infoStyle.Render(fmt.Sprintf("%d downloaded, %d skipped, %d failed", m.done, m.skipped, m.failed)))
	b.WriteString("\n\n")

	maxLines := m.termHeight - 10
	if maxLines < 1 {
		maxLines = 1
	}
	startIdx := 0
	if len(m.fileOrder) > maxLines {
		startIdx = len(m.fileOrder) - maxLines
	}

	if len(m.fileOrder) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-40s | %-12s | %s", "File", "Status", "Elapsed")))
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", max(0, m.termWidth)))
		b.WriteString("\n")
		for i := startIdx; i < len(m.fileOrder); i++ {
			fp := m.files[m.fileOrder[i]]
			if fp == nil {
				continue
			}
			statusStyled, ok := rowStatStyle[fp.Status]
			if !ok {
				statusStyled = infoStyle
			}
			detail := ""
			switch {
			case fp.Elapsed > 0:
				detail = fp.Elapsed.Round(time.Millisecond).String()
			case fp.Total > 0:
				pct := float64(fp.Current) / float64(fp.Total)
				detail = barStyle.Render(m.fileBar.ViewAs(pct))
			case fp.Current > 0:
				detail = fmt.Sprintf("%d bytes", fp.Current)
			}
			name := fp.Name
			if len(name) > 40 {
				name = name[:37] + "..."
			}
			line := fmt.Sprintf("%-40s | %-12s | %s", name, statusStyled.Render(fp.Status), detail)
			b.WriteString(line)
			if fp.Status == "Error" && fp.ErrMsg != "" {
				b.WriteString("\n")
				b.WriteString(errorStyle.Render(wrapText("  -> "+fp.ErrMsg, m.termWidth-4)))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
