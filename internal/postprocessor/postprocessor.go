// Package postprocessor holds the built-in post-download steps. Each
// one is constructed per job from its options map and contributes
// lifecycle callbacks that the job wires into its hook registry.
package postprocessor

import (
	"fmt"
	"log/slog"

	"github.com/brensch/harvest/internal/hook"
)

// Postprocessor exposes the lifecycle callbacks of one configured step.
type Postprocessor interface {
	Hooks() map[hook.Event]hook.Callback
}

// Factory builds a postprocessor from its options map.
type Factory func(opts map[string]any, log *slog.Logger) (Postprocessor, error)

var registry = map[string]Factory{}

func Register(name string, f Factory) {
	registry[name] = f
}

// New constructs the named postprocessor, or errors when the name is
// unknown.
func New(name string, opts map[string]any, log *slog.Logger) (Postprocessor, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown postprocessor %q", name)
	}
	if opts == nil {
		opts = map[string]any{}
	}
	return f(opts, log)
}

// optString reads a string option with a default.
func optString(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// optBool reads a bool option with a default.
func optBool(opts map[string]any, key string, def bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

// optStrings reads a string list option; single strings become a one
// element list.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// parseEvent resolves the "event" option, falling back to def.
func parseEvent(opts map[string]any, def hook.Event) (hook.Event, error) {
	name, ok := opts["event"].(string)
	if !ok || name == "" {
		return def, nil
	}
	return hook.Parse(name)
}
