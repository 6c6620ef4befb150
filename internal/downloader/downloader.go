// Package downloader defines the byte-transfer collaborator and its
// scheme registry. The engine looks downloaders up by URL scheme and
// caches instances per job.
package downloader

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/brensch/harvest/internal/output"
	"github.com/brensch/harvest/internal/pathfmt"
)

// Downloader transfers one URL into the path context's temp location.
// The boolean result is true iff bytes were written; (false, nil) means
// a clean no-op (nothing to fetch), (false, err) a failed attempt.
type Downloader interface {
	Download(ctx context.Context, url string, pc *pathfmt.Context) (bool, error)
}

// Factory builds a downloader instance for one job.
type Factory func(client *http.Client, out output.Reporter, log *slog.Logger) Downloader

var registry = map[string]Factory{}

// Register binds a factory to a URL scheme. The http factory also
// serves https.
func Register(scheme string, f Factory) {
	registry[scheme] = f
}

// Find returns the factory for scheme, or nil when the scheme is
// unsupported.
func Find(scheme string) Factory {
	if f, ok := registry[scheme]; ok {
		return f
	}
	if scheme == "https" {
		return registry["http"]
	}
	return nil
}
