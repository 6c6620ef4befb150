package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/brensch/harvest/internal/output"
	"github.com/brensch/harvest/internal/pathfmt"
	"github.com/brensch/harvest/internal/util"
)

func init() {
	Register("http", func(client *http.Client, out output.Reporter, log *slog.Logger) Downloader {
		return &HTTP{Client: client, Out: out, Log: log}
	})
}

// HTTP fetches a URL into "<path>.part". The engine renames the part
// file into place once the file hooks have run.
type HTTP struct {
	Client *http.Client
	Out    output.Reporter
	Log    *slog.Logger
}

func (d *HTTP) Download(ctx context.Context, url string, pc *pathfmt.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", util.RandomUserAgent())

	resp, err := d.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	part := pc.Path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return false, err
	}
	pc.TempPath = part

	d.Log.Debug("downloading",
		slog.String("url", url),
		slog.String("path", pc.Path),
		slog.Int64("length", resp.ContentLength),
	)

	_, err = io.Copy(&progressWriter{
		dst:   f,
		name:  pc.Filename,
		total: resp.ContentLength,
		out:   d.Out,
	}, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("write %s: %w", part, err)
	}
	return true, nil
}

// progressWriter forwards byte counts to the reporter as they land.
type progressWriter struct {
	dst     io.Writer
	name    string
	total   int64
	current int64
	out     output.Reporter
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.current += int64(n)
	w.out.Progress(w.name, w.current, w.total)
	return n, err
}
