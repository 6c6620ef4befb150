package postprocessor

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/brensch/harvest/internal/hook"
	"github.com/brensch/harvest/internal/pathfmt"
)

func init() {
	Register("exec", newExec)
}

// execPP runs an external command for each finished file. "{}" in any
// argument is replaced with the file's final path.
type execPP struct {
	command []string
	event   hook.Event
	log     *slog.Logger
}

func newExec(opts map[string]any, log *slog.Logger) (Postprocessor, error) {
	command := optStrings(opts, "command")
	if len(command) == 0 {
		return nil, errors.New("exec postprocessor requires a command")
	}
	ev, err := parseEvent(opts, hook.After)
	if err != nil {
		return nil, err
	}
	return &execPP{command: command, event: ev, log: log}, nil
}

func (p *execPP) Hooks() map[hook.Event]hook.Callback {
	return map[hook.Event]hook.Callback{p.event: p.run}
}

func (p *execPP) run(pc *pathfmt.Context) error {
	args := make([]string, len(p.command))
	substituted := false
	for i, arg := range p.command {
		if strings.Contains(arg, "{}") {
			args[i] = strings.ReplaceAll(arg, "{}", pc.Path)
			substituted = true
		} else {
			args[i] = arg
		}
	}
	if !substituted {
		args = append(args, pc.Path)
	}

	cmd := exec.Command(args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("exec %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(out)))
	}
	p.log.Debug("exec finished",
		slog.String("command", args[0]),
		slog.String("path", pc.Path),
	)
	return nil
}
