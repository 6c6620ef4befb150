// Package hook is the lifecycle extension point registry. Postprocessors
// register callbacks against a closed set of events; the download
// orchestrator fires them in registration order.
package hook

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"

	"github.com/brensch/harvest/internal/pathfmt"
	"github.com/brensch/harvest/internal/predicate"
)

// Event is one point in the download lifecycle.
type Event int

const (
	// Prepare fires after the filename is resolved, before any skip
	// checks or network activity.
	Prepare Event = iota
	// File fires against the completed temporary artifact.
	File
	// After fires once the artifact reached its final location.
	After
	// Skip fires when an item was skipped instead of downloaded.
	Skip
	// Post fires when a new directory context begins.
	Post
	// PostAfter fires when a directory context ends.
	PostAfter
	// Init fires once after the postprocessor list is built.
	Init
	// Finalize fires once when the job is torn down.
	Finalize

	numEvents
)

var eventNames = map[string]Event{
	"prepare":    Prepare,
	"file":       File,
	"after":      After,
	"skip":       Skip,
	"post":       Post,
	"post-after": PostAfter,
	"init":       Init,
	"finalize":   Finalize,
}

// Parse maps a configuration event name to its Event.
func Parse(name string) (Event, error) {
	ev, ok := eventNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown hook event %q", name)
	}
	return ev, nil
}

func (e Event) String() string {
	for name, ev := range eventNames {
		if ev == e {
			return name
		}
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Callback receives the current path context. An error aborts the
// surrounding message handler and is classified by the job loop.
type Callback func(pc *pathfmt.Context) error

// Registry holds the ordered callback lists of one job. Invocation order
// equals registration order, which equals configuration order.
type Registry struct {
	hooks [numEvents][]Callback
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends cb to the event's list.
func (r *Registry) Register(ev Event, cb Callback) {
	r.hooks[ev] = append(r.hooks[ev], cb)
}

// RegisterAll registers a batch of callbacks, optionally wrapping each
// one with a metadata filter expression: a gated callback only fires
// when the expression evaluates true against the current metadata.
func (r *Registry) RegisterAll(hooks map[Event]Callback, filter string, log *slog.Logger) error {
	if filter == "" {
		for ev, cb := range hooks {
			r.Register(ev, cb)
		}
		return nil
	}

	prog, err := expr.Compile(filter)
	if err != nil {
		return fmt.Errorf("compile hook filter %q: %w", filter, err)
	}
	for ev, cb := range hooks {
		callback := cb
		r.Register(ev, func(pc *pathfmt.Context) error {
			out, err := expr.Run(prog, map[string]any(pc.Meta))
			if err != nil {
				log.Warn("hook filter failed, not firing",
					slog.String("filter", filter), slog.Any("error", err))
				return nil
			}
			if !predicate.Truthy(out) {
				return nil
			}
			return callback(pc)
		})
	}
	return nil
}

// Has reports whether any callback is registered for ev.
func (r *Registry) Has(ev Event) bool {
	return len(r.hooks[ev]) > 0
}

// Invoke fires the event's callbacks in order, stopping at the first
// error.
func (r *Registry) Invoke(ev Event, pc *pathfmt.Context) error {
	for _, cb := range r.hooks[ev] {
		if err := cb(pc); err != nil {
			return fmt.Errorf("%s hook: %w", ev, err)
		}
	}
	return nil
}
