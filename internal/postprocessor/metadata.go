package postprocessor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/brensch/harvest/internal/hook"
	"github.com/brensch/harvest/internal/pathfmt"
)

func init() {
	Register("metadata", newMetadata)
}

// metadataPP writes the item's public metadata as a JSON sidecar next
// to the downloaded file.
type metadataPP struct {
	extension string
	event     hook.Event
	log       *slog.Logger
}

func newMetadata(opts map[string]any, log *slog.Logger) (Postprocessor, error) {
	ev, err := parseEvent(opts, hook.File)
	if err != nil {
		return nil, err
	}
	return &metadataPP{
		extension: optString(opts, "extension", "json"),
		event:     ev,
		log:       log,
	}, nil
}

func (p *metadataPP) Hooks() map[hook.Event]hook.Callback {
	return map[hook.Event]hook.Callback{p.event: p.run}
}

func (p *metadataPP) run(pc *pathfmt.Context) error {
	if pc.Path == "" || pc.Meta == nil {
		return nil
	}
	target := pc.Path + "." + p.extension
	data, err := json.MarshalIndent(pc.Meta.Public(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", pc.Path, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write metadata sidecar: %w", err)
	}
	p.log.Debug("wrote metadata sidecar", slog.String("path", target))
	return nil
}
