package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/brensch/harvest/internal/config"
	"github.com/brensch/harvest/internal/extractor"
	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/status"
)

// URLJob prints every resolved download URL instead of fetching it.
// Queue targets are followed depth-first up to MaxDepth.
type URLJob struct {
	Job

	W        io.Writer
	MaxDepth int
	depth    int
	visited  map[string]struct{}
}

// NewURLJob resolves url and builds a printing job.
func NewURLJob(url string, cfg *config.Config, log *slog.Logger, w io.Writer, maxDepth int) (*URLJob, error) {
	extr, _ := extractor.Find(url)
	if extr == nil {
		return nil, fmt.Errorf("no extractor for %q", url)
	}
	j := &URLJob{
		Job:      newJob(extr, cfg, log, nil),
		W:        w,
		MaxDepth: maxDepth,
		visited:  make(map[string]struct{}),
	}
	j.h = j
	return j, nil
}

func (j *URLJob) handleURL(_ context.Context, url string, md message.Metadata) error {
	fmt.Fprintln(j.W, url)
	if j.Cfg.Fallback {
		for _, alt := range fallbackURLs(md) {
			fmt.Fprintln(j.W, "| "+alt)
		}
	}
	return nil
}

func (j *URLJob) handleDirectory(context.Context, message.Metadata) error { return nil }

func (j *URLJob) handleQueue(ctx context.Context, url string, md message.Metadata) error {
	if _, seen := j.visited[url]; seen {
		return nil
	}
	j.visited[url] = struct{}{}

	if j.depth >= j.MaxDepth {
		fmt.Fprintln(j.W, url)
		return nil
	}

	var extr extractor.Extractor
	if hint, ok := md[extractor.HintKey].(extractor.Factory); ok && hint != nil {
		extr, _ = hint(url)
	} else {
		extr, _ = extractor.Find(url)
	}
	if extr == nil {
		fmt.Fprintln(j.W, url)
		return nil
	}

	child := &URLJob{
		Job:      newJob(extr, j.Cfg, j.Log, nil),
		W:        j.W,
		MaxDepth: j.MaxDepth,
		depth:    j.depth + 1,
		visited:  j.visited,
	}
	child.h = child
	st, err := child.Run(ctx)
	j.Status |= st
	if err != nil && !errors.Is(err, status.ErrRestart) {
		return err
	}
	return nil
}

func (j *URLJob) handleFinalize() {}

// SimulationJob walks the message stream and reports what a real run
// would download, without touching the network or the filesystem.
type SimulationJob struct {
	Job

	Results int
}

func NewSimulationJob(url string, cfg *config.Config, log *slog.Logger) (*SimulationJob, error) {
	extr, _ := extractor.Find(url)
	if extr == nil {
		return nil, fmt.Errorf("no extractor for %q", url)
	}
	j := &SimulationJob{Job: newJob(extr, cfg, log, nil)}
	j.h = j
	return j, nil
}

func (j *SimulationJob) handleURL(_ context.Context, url string, md message.Metadata) error {
	j.Results++
	j.Log.Info("would download",
		slog.String("target", url),
		slog.String("filename", md.String("filename")),
	)
	return nil
}

func (j *SimulationJob) handleDirectory(context.Context, message.Metadata) error { return nil }

func (j *SimulationJob) handleQueue(_ context.Context, url string, _ message.Metadata) error {
	j.Log.Info("would queue", slog.String("target", url))
	return nil
}

func (j *SimulationJob) handleFinalize() {}
