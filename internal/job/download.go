package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/brensch/harvest/internal/archive"
	"github.com/brensch/harvest/internal/config"
	"github.com/brensch/harvest/internal/db"
	"github.com/brensch/harvest/internal/downloader"
	"github.com/brensch/harvest/internal/extractor"
	"github.com/brensch/harvest/internal/format"
	"github.com/brensch/harvest/internal/hook"
	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/output"
	"github.com/brensch/harvest/internal/pathfmt"
	"github.com/brensch/harvest/internal/postprocessor"
	"github.com/brensch/harvest/internal/status"
	"github.com/brensch/harvest/internal/util"
)

// FallbackKey is the metadata key carrying alternate URLs tried in
// order after the primary URL fails.
const FallbackKey = "_fallback"

// shared is the state owned by the root job and referenced, never
// copied, by every descendant.
type shared struct {
	visited     map[string]struct{}
	archive     *archive.Archive
	unsupported *os.File
	categoryOK  func(string) bool // built lazily from white/blacklist
}

// DownloadJob is the handler that downloads files: dedup against the
// archive, skip policies, fallback URLs, postprocessor hooks and
// recursive child jobs for Queue messages.
type DownloadJob struct {
	Job

	shared *shared
	root   bool

	out     output.Reporter
	client  *http.Client
	limiter *rate.Limiter

	pc          *pathfmt.Context
	hooks       *hook.Registry
	downloaders map[string]downloader.Downloader
	initialized bool

	// skip policy state
	skipOff    bool
	skipCount  int
	skipMax    int
	skipSignal func(*DownloadJob) error

	// parent propagation
	parentDir string
}

// New resolves url to an extractor and builds the root job of a tree.
// A nil extractor result means no registered pattern matched.
func New(url string, cfg *config.Config, log *slog.Logger, runLog *db.RunLog, out output.Reporter) (*DownloadJob, error) {
	extr, _ := extractor.Find(url)
	if extr == nil {
		return nil, fmt.Errorf("no extractor for %q", url)
	}
	return NewFromExtractor(extr, cfg, log, runLog, out), nil
}

// NewFromExtractor builds a root job around an already resolved
// extractor.
func NewFromExtractor(extr extractor.Extractor, cfg *config.Config, log *slog.Logger, runLog *db.RunLog, out output.Reporter) *DownloadJob {
	if out == nil {
		out = output.NullReporter{}
	}
	j := &DownloadJob{
		Job:    newJob(extr, cfg, log, runLog),
		shared: &shared{visited: make(map[string]struct{})},
		root:   true,
		out:    out,
		client: util.DefaultHTTPClient(),
	}
	if cfg.Sleep > 0 {
		j.limiter = rate.NewLimiter(rate.Every(cfg.Sleep), 1)
	}
	j.h = j
	return j
}

// newChild builds a job for a resolved Queue target. It references the
// parent's shared state and reporting plumbing.
func (j *DownloadJob) newChild(extr extractor.Extractor) *DownloadJob {
	c := &DownloadJob{
		Job:     newJob(extr, j.Cfg, j.Log, j.RunLog),
		shared:  j.shared,
		out:     j.out,
		client:  j.client,
		limiter: j.limiter,
	}
	c.h = c
	return c
}

// initialize sets up the path context, archive, skip policy and
// postprocessors. It runs lazily on the first Directory (or URL)
// message so extractors that error out early cost nothing.
func (j *DownloadJob) initialize(md message.Metadata) error {
	dirFmt, err := format.New(j.Extr.DirectoryFormat())
	if err != nil {
		return &status.StopError{Message: err.Error(), Code: status.Format}
	}
	nameFmt, err := format.New(j.Extr.FilenameFormat())
	if err != nil {
		return &status.StopError{Message: err.Error(), Code: status.Format}
	}

	baseDir := j.Cfg.BaseDirectory
	if j.parentDir != "" {
		baseDir = j.parentDir
	}
	j.pc = pathfmt.New(baseDir, dirFmt, nameFmt)
	j.downloaders = make(map[string]downloader.Downloader)

	if err := j.initSkipPolicy(); err != nil {
		return err
	}
	if err := j.initArchive(); err != nil {
		return err
	}
	if err := j.initPostprocessors(); err != nil {
		return err
	}
	j.initialized = true

	if md != nil {
		if err := j.pc.SetDirectory(md); err != nil {
			return err
		}
		return j.hooks.Invoke(hook.Post, j.pc)
	}
	return nil
}

func (j *DownloadJob) initSkipPolicy() error {
	spec := j.Cfg.Skip
	switch spec {
	case "", "true":
		return nil
	case "false":
		j.skipOff = true
		return nil
	case "enumerate":
		j.pc.SetEnumerate(true)
		return nil
	}

	kind, num, _ := strings.Cut(spec, ":")
	threshold := 1
	if num != "" {
		n, err := strconv.Atoi(num)
		if err != nil || n < 1 {
			return &status.StopError{
				Message: fmt.Sprintf("invalid skip policy %q", spec),
				Code:    status.Format,
			}
		}
		threshold = n
	}
	j.skipMax = threshold
	switch kind {
	case "abort":
		j.skipSignal = func(job *DownloadJob) error {
			return &status.StopError{
				Message: fmt.Sprintf("aborting after %d consecutive skips", job.skipCount),
			}
		}
	case "terminate":
		j.skipSignal = func(*DownloadJob) error { return status.ErrTerminate }
	case "exit":
		j.skipSignal = func(*DownloadJob) error { return &status.ExitError{} }
	default:
		return &status.StopError{
			Message: fmt.Sprintf("invalid skip policy %q", spec),
			Code:    status.Format,
		}
	}
	return nil
}

// initArchive opens the dedup store. Only the root opens it; children
// find it already present on the shared state.
func (j *DownloadJob) initArchive() error {
	if j.shared.archive != nil || j.Cfg.Archive == "" {
		return nil
	}
	tmpl := j.Cfg.ArchiveFormat
	if tmpl == "" {
		tmpl = j.Extr.ArchiveFormat()
	}
	prefix := j.Cfg.ArchivePrefix
	if prefix == "" {
		prefix = j.Extr.Category()
	}
	keyFmt, err := format.New(prefix + tmpl)
	if err != nil {
		return &status.StopError{Message: err.Error(), Code: status.Format}
	}
	arch, err := archive.Open(j.Cfg.Archive, keyFmt)
	if err != nil {
		j.Log.Warn("could not open archive, continuing without dedup", slog.Any("error", err))
		return nil
	}
	j.shared.archive = arch
	return nil
}

func (j *DownloadJob) initPostprocessors() error {
	j.hooks = hook.NewRegistry()
	category := j.Extr.Category()
	for _, ppCfg := range j.Cfg.Postprocessors {
		if !categoryAllowed(category, ppCfg.Whitelist, ppCfg.Blacklist) {
			continue
		}
		pp, err := postprocessor.New(ppCfg.Name, ppCfg.Options, j.Log)
		if err != nil {
			j.Log.Warn("skipping postprocessor", slog.String("name", ppCfg.Name), slog.Any("error", err))
			continue
		}
		if err := j.hooks.RegisterAll(pp.Hooks(), ppCfg.Filter, j.Log); err != nil {
			j.Log.Warn("skipping postprocessor", slog.String("name", ppCfg.Name), slog.Any("error", err))
			continue
		}
	}
	return j.hooks.Invoke(hook.Init, j.pc)
}

func (j *DownloadJob) handleURL(ctx context.Context, url string, md message.Metadata) error {
	if !j.initialized {
		if err := j.initialize(nil); err != nil {
			return err
		}
	}

	if err := j.pc.SetFilename(md); err != nil {
		return err
	}
	if err := j.hooks.Invoke(hook.Prepare, j.pc); err != nil {
		return err
	}

	arch := j.shared.archive
	if !j.skipOff && arch != nil {
		seen, err := arch.Check(md)
		if err != nil {
			return err
		}
		if seen {
			j.pc.FixExtension()
			j.pc.BuildPath()
			return j.handleSkip()
		}
	}

	j.pc.BuildPath()
	if !j.skipOff && j.pc.Exists() {
		if arch != nil {
			if err := arch.Add(md); err != nil {
				return err
			}
		}
		return j.handleSkip()
	}

	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if !j.Cfg.Download {
		j.pc.FixExtension()
		if arch != nil {
			if err := arch.Add(md); err != nil {
				return err
			}
		}
		return j.handleSkip()
	}

	j.logEvent(ctx, url, db.EventDownloadStart, "", "")
	start := time.Now()
	wrote, failed, err := j.download(ctx, url, md)
	if err != nil {
		return err
	}
	if failed {
		// already counted and logged; the item stays retryable
		return nil
	}
	if !wrote {
		// clean no-op download, bookkeeping only
		if arch != nil {
			if err := arch.Add(md); err != nil {
				return err
			}
		}
		return j.handleSkip()
	}

	if err := j.hooks.Invoke(hook.File, j.pc); err != nil {
		return err
	}
	if err := j.pc.Finalize(); err != nil {
		return err
	}

	j.out.Success(j.pc.Path)
	j.skipCount = 0
	if arch != nil {
		if err := arch.Add(md); err != nil {
			return err
		}
	}
	duration := time.Since(start)
	if j.RunLog != nil {
		j.RunLog.Event(ctx, url, j.Extr.Category(), db.EventDownloadEnd, j.pc.Path, "", &duration)
	}
	return j.hooks.Invoke(hook.After, j.pc)
}

// download attempts the primary URL, then any fallback URLs from the
// metadata. A download failure is not an error for the message loop: it
// sets the failed bit and the run continues with failed=true. Storage
// exhaustion is the exception and aborts immediately.
func (j *DownloadJob) download(ctx context.Context, url string, md message.Metadata) (wrote, failed bool, err error) {
	wrote, err = j.tryDownload(ctx, url)
	if err == nil {
		return wrote, false, nil
	}
	if status.IsStorageFull(err) {
		return false, false, err
	}

	lastErr := err
	if j.Cfg.Fallback {
		for i, alt := range fallbackURLs(md) {
			j.pc.RemoveTemp()
			j.Log.Info("trying fallback URL", slog.Int("num", i+1))
			wrote, err = j.tryDownload(ctx, alt)
			if err == nil {
				return wrote, false, nil
			}
			if status.IsStorageFull(err) {
				return false, false, err
			}
			lastErr = err
		}
	}

	j.pc.RemoveTemp()
	j.Status |= status.Download
	j.Log.Error("download failed",
		slog.String("target", url),
		slog.Any("error", lastErr),
	)
	j.logEvent(ctx, url, db.EventError, "", lastErr.Error())
	return false, true, nil
}

// tryDownload runs one attempt through the scheme-matched downloader.
func (j *DownloadJob) tryDownload(ctx context.Context, url string) (bool, error) {
	scheme, _, found := strings.Cut(url, "://")
	if !found {
		scheme = "http"
	}
	dl, ok := j.downloaders[scheme]
	if !ok {
		factory := downloader.Find(scheme)
		if factory == nil {
			return false, fmt.Errorf("unsupported URL scheme %q", scheme)
		}
		dl = factory(j.client, j.out, j.Log)
		j.downloaders[scheme] = dl
	}
	return dl.Download(ctx, url, j.pc)
}

// handleSkip counts a skipped item and raises the configured signal
// once too many skips occur in a row.
func (j *DownloadJob) handleSkip() error {
	j.skipCount++
	if err := j.hooks.Invoke(hook.Skip, j.pc); err != nil {
		return err
	}
	j.out.Skip(j.pc.Path)
	if j.skipMax > 0 && j.skipCount >= j.skipMax {
		return j.skipSignal(j)
	}
	return nil
}

func (j *DownloadJob) handleDirectory(ctx context.Context, md message.Metadata) error {
	if !j.initialized {
		return j.initialize(md)
	}
	if err := j.hooks.Invoke(hook.PostAfter, j.pc); err != nil {
		return err
	}
	if err := j.pc.SetDirectory(md); err != nil {
		return err
	}
	return j.hooks.Invoke(hook.Post, j.pc)
}

func (j *DownloadJob) handleQueue(ctx context.Context, url string, md message.Metadata) error {
	if _, seen := j.shared.visited[url]; seen {
		return nil
	}
	j.shared.visited[url] = struct{}{}

	extr, factory := j.resolve(url, md)
	if extr == nil {
		j.handleUnsupported(url)
		return nil
	}

	if j.Cfg.CategoryTransfer {
		if ct, ok := extr.(extractor.CategoryTransferrer); ok {
			ct.TransferCategory(j.Extr.Category(), j.Extr.Subcategory())
		}
	}
	j.logEvent(ctx, url, db.EventQueue, "", extr.Category())

	for {
		child := j.newChild(extr)
		j.propagate(child, md)

		st, err := child.Run(ctx)
		j.Status |= st
		if j.Cfg.ParentSkip {
			j.skipCount = child.skipCount
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, status.ErrRestart) {
			if factory == nil {
				return nil
			}
			restarted, ferr := factory(url)
			if ferr != nil {
				return nil
			}
			extr = restarted
			continue
		}
		return err
	}
}

// resolve finds an extractor for a Queue target, honoring an explicit
// hint in the metadata and the configured category filter.
func (j *DownloadJob) resolve(url string, md message.Metadata) (extractor.Extractor, extractor.Factory) {
	if hint, ok := md[extractor.HintKey].(extractor.Factory); ok && hint != nil {
		extr, err := hint(url)
		if err != nil {
			return nil, nil
		}
		return extr, hint
	}
	extr, factory := extractor.Find(url)
	if extr == nil {
		return nil, nil
	}

	if j.shared.categoryOK == nil {
		white, black := j.Cfg.Whitelist, j.Cfg.Blacklist
		j.shared.categoryOK = func(category string) bool {
			return categoryAllowed(category, white, black)
		}
	}
	if !j.shared.categoryOK(extr.Category()) {
		return nil, nil
	}
	return extr, factory
}

// propagate applies the parent-directory, parent-metadata and
// parent-skip options to a freshly built child.
func (j *DownloadJob) propagate(child *DownloadJob, md message.Metadata) {
	if j.Cfg.ParentDirectory && j.pc != nil {
		child.parentDir = j.pc.Directory
	}
	switch j.Cfg.ParentMetadata {
	case "":
	case "*":
		child.parentMeta = j.inherited(md)
	default:
		child.parentMeta = message.Metadata{j.Cfg.ParentMetadata: j.inherited(md)}
	}
	if j.Cfg.ParentSkip {
		child.skipCount = j.skipCount
		child.skipMax = j.skipMax
		child.skipSignal = j.skipSignal
	}
}

// inherited builds the metadata a child job starts from: the keys this
// job inherited from its own parent plus the queue message's metadata.
// Internal keys travel along so the chain survives arbitrary depth.
func (j *DownloadJob) inherited(md message.Metadata) message.Metadata {
	data := make(message.Metadata, len(j.parentMeta)+len(md))
	data.Merge(j.parentMeta)
	data.Merge(md)
	return data
}

// handleUnsupported records a Queue URL no extractor claimed.
func (j *DownloadJob) handleUnsupported(url string) {
	j.Log.Info("unsupported URL", slog.String("target", url))
	if j.Cfg.UnsupportedFile == "" {
		return
	}
	if j.shared.unsupported == nil {
		f, err := os.OpenFile(j.Cfg.UnsupportedFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			j.Log.Warn("cannot open unsupported-URL file", slog.Any("error", err))
			return
		}
		j.shared.unsupported = f
	}
	fmt.Fprintln(j.shared.unsupported, url)
}

func (j *DownloadJob) handleFinalize() {
	if j.hooks != nil && j.pc != nil {
		// Close the last directory context; earlier ones were closed by
		// the Directory message that replaced them.
		if err := j.hooks.Invoke(hook.PostAfter, j.pc); err != nil {
			j.Log.Warn("post-after hook failed", slog.Any("error", err))
		}
		j.pc.Status = j.Status
		if err := j.hooks.Invoke(hook.Finalize, j.pc); err != nil {
			j.Log.Warn("finalize hook failed", slog.Any("error", err))
		}
	}
	if !j.root {
		return
	}
	if j.shared.archive != nil {
		if err := j.shared.archive.Close(); err != nil {
			j.Log.Warn("closing archive failed", slog.Any("error", err))
		}
		j.shared.archive = nil
	}
	if j.shared.unsupported != nil {
		j.shared.unsupported.Close()
		j.shared.unsupported = nil
	}
}

func (j *DownloadJob) logEvent(ctx context.Context, url, event, path, msg string) {
	if j.RunLog == nil {
		return
	}
	if err := j.RunLog.Event(ctx, url, j.Extr.Category(), event, path, msg, nil); err != nil {
		j.Log.Debug("run log write failed", slog.Any("error", err))
	}
}

// fallbackURLs pulls the alternate URL list out of metadata.
func fallbackURLs(md message.Metadata) []string {
	switch v := md[FallbackKey].(type) {
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

func categoryAllowed(category string, whitelist, blacklist []string) bool {
	for _, c := range blacklist {
		if c == category {
			return false
		}
	}
	if len(whitelist) == 0 {
		return true
	}
	for _, c := range whitelist {
		if c == category {
			return true
		}
	}
	return false
}
