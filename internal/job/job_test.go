package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/harvest/internal/archive"
	"github.com/brensch/harvest/internal/config"
	"github.com/brensch/harvest/internal/downloader"
	"github.com/brensch/harvest/internal/extractor"
	"github.com/brensch/harvest/internal/format"
	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/hook"
	"github.com/brensch/harvest/internal/output"
	"github.com/brensch/harvest/internal/pathfmt"
	"github.com/brensch/harvest/internal/postprocessor"
	"github.com/brensch/harvest/internal/status"
)

// mockDL serves the "mock" URL scheme in tests. Failures are keyed by
// full URL; everything else writes a small part file.
var mockDL = &mockDownloader{}

func init() {
	downloader.Register("mock", func(*http.Client, output.Reporter, *slog.Logger) downloader.Downloader {
		return mockDL
	})
}

type mockDownloader struct {
	fail      map[string]bool
	downloads []string
}

func (m *mockDownloader) reset() {
	m.fail = nil
	m.downloads = nil
}

func (m *mockDownloader) Download(_ context.Context, url string, pc *pathfmt.Context) (bool, error) {
	if m.fail[url] {
		return false, fmt.Errorf("mock failure for %s", url)
	}
	m.downloads = append(m.downloads, url)
	part := pc.Path + ".part"
	if err := os.WriteFile(part, []byte("payload"), 0o644); err != nil {
		return false, err
	}
	pc.TempPath = part
	return true, nil
}

// fakeExtractor replays a fixed message slice.
type fakeExtractor struct {
	extractor.Base
	msgs    []*message.Message
	pos     int
	skipped int
}

func newFakeExtractor(msgs ...*message.Message) *fakeExtractor {
	return &fakeExtractor{
		Base: extractor.Base{
			Source:     "mock://site/gallery",
			Cat:        "test",
			Sub:        "gallery",
			ArchiveKey: "-{{.id}}",
			FileTmpl:   "{{.filename}}.{{.extension}}",
			DirTmpl:    "{{.title}}",
		},
		msgs: msgs,
	}
}

func (f *fakeExtractor) Next(context.Context) (*message.Message, error) {
	if f.pos >= len(f.msgs) {
		return nil, io.EOF
	}
	msg := f.msgs[f.pos]
	f.pos++
	return msg, nil
}

func (f *fakeExtractor) Skip(n int) int {
	f.skipped += n
	return n
}

func dirMsg(title string) *message.Message {
	return message.Directory(message.Metadata{"title": title})
}

func urlMsg(id int) *message.Message {
	return message.URL(fmt.Sprintf("mock://site/%d.jpg", id), message.Metadata{
		"id":        id,
		"filename":  fmt.Sprintf("%d", id),
		"extension": "jpg",
	})
}

func testCfg(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDirectory = t.TempDir()
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runJob(t *testing.T, extr extractor.Extractor, cfg *config.Config) (status.Status, error) {
	t.Helper()
	j := NewFromExtractor(extr, cfg, testLogger(), nil, output.NullReporter{})
	return j.Run(context.Background())
}

func TestScenarioSkipAndDownload(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.Archive = filepath.Join(t.TempDir(), "archive.sqlite3")

	// pre-record id 1 the way a previous run would have
	arch, err := archive.Open(cfg.Archive, format.MustNew("test-{{.id}}"))
	require.NoError(t, err)
	require.NoError(t, arch.Add(message.Metadata{"id": 1}))
	require.NoError(t, arch.Close())

	extr := newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2))
	st, err := runJob(t, extr, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)

	assert.Equal(t, []string{"mock://site/2.jpg"}, mockDL.downloads)
	assert.FileExists(t, filepath.Join(cfg.BaseDirectory, "A", "2.jpg"))
	assert.NoFileExists(t, filepath.Join(cfg.BaseDirectory, "A", "1.jpg"))

	arch, err = archive.Open(cfg.Archive, format.MustNew("test-{{.id}}"))
	require.NoError(t, err)
	defer arch.Close()
	for _, id := range []int{1, 2} {
		seen, err := arch.Check(message.Metadata{"id": id})
		require.NoError(t, err)
		assert.True(t, seen, "id %d should be archived", id)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.Archive = filepath.Join(t.TempDir(), "archive.sqlite3")

	st, err := runJob(t, newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2)), cfg)
	require.NoError(t, err)
	require.Equal(t, status.OK, st)
	require.Len(t, mockDL.downloads, 2)

	mockDL.reset()
	st, err = runJob(t, newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2)), cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Empty(t, mockDL.downloads, "second run must not download anything")
}

func TestDownloadFailureSetsBitAndContinues(t *testing.T) {
	mockDL.reset()
	mockDL.fail = map[string]bool{"mock://site/1.jpg": true}
	cfg := testCfg(t)

	st, err := runJob(t, newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2)), cfg)
	require.NoError(t, err)
	assert.Equal(t, status.Download, st)
	assert.Equal(t, []string{"mock://site/2.jpg"}, mockDL.downloads,
		"the loop continues past a failed item")
}

func TestFallbackURL(t *testing.T) {
	mockDL.reset()
	mockDL.fail = map[string]bool{"mock://site/1.jpg": true}
	cfg := testCfg(t)

	msg := urlMsg(1)
	msg.Meta[FallbackKey] = []string{"mock://mirror/1.jpg"}
	st, err := runJob(t, newFakeExtractor(dirMsg("A"), msg), cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []string{"mock://mirror/1.jpg"}, mockDL.downloads)
	assert.FileExists(t, filepath.Join(cfg.BaseDirectory, "A", "1.jpg"))
}

func TestChildStatusAggregates(t *testing.T) {
	mockDL.reset()
	mockDL.fail = map[string]bool{"mock://child/9.jpg": true}
	cfg := testCfg(t)

	childFactory := extractor.Factory(func(string) (extractor.Extractor, error) {
		child := newFakeExtractor(
			dirMsg("child"),
			message.URL("mock://child/9.jpg", message.Metadata{
				"id": 9, "filename": "9", "extension": "jpg",
			}),
		)
		child.Cat = "child"
		return child, nil
	})

	parent := newFakeExtractor(
		dirMsg("parent"),
		urlMsg(1),
		message.Queue("mock://child/gallery", message.Metadata{extractor.HintKey: childFactory}),
	)
	st, err := runJob(t, parent, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.Download, st,
		"a child's failed bit must surface in the parent status")
}

func TestQueueDedupAcrossBranches(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)

	spawned := 0
	childFactory := extractor.Factory(func(string) (extractor.Extractor, error) {
		spawned++
		return newFakeExtractor(dirMsg("child")), nil
	})

	parent := newFakeExtractor(
		dirMsg("parent"),
		message.Queue("mock://child/same", message.Metadata{extractor.HintKey: childFactory}),
		message.Queue("mock://child/same", message.Metadata{extractor.HintKey: childFactory}),
	)
	_, err := runJob(t, parent, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, spawned, "an identical Queue URL spawns exactly one child")
}

func TestSkipAbortPolicy(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.Skip = "abort:3"

	// every target already on disk
	dir := filepath.Join(cfg.BaseDirectory, "A")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for id := 1; id <= 4; id++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.jpg", id)), []byte("x"), 0o644))
	}

	extr := newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2), urlMsg(3), urlMsg(4))
	st, err := runJob(t, extr, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st, "skip-abort is a soft stop, not an error")
	assert.Empty(t, mockDL.downloads)
	assert.Equal(t, 4, extr.pos, "the fourth url message is never fetched")
}

func TestSkipCounterResetsOnSuccess(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.Skip = "abort:3"

	dir := filepath.Join(cfg.BaseDirectory, "A")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, id := range []int{1, 2, 4, 5} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.jpg", id)), []byte("x"), 0o644))
	}

	extr := newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2), urlMsg(3), urlMsg(4), urlMsg(5))
	st, err := runJob(t, extr, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []string{"mock://site/3.jpg"}, mockDL.downloads)
	assert.Equal(t, 6, extr.pos, "an intervening success resets the counter so the run completes")
}

func TestSkipTerminatePropagates(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.Skip = "terminate:1"

	dir := filepath.Join(cfg.BaseDirectory, "A")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.jpg"), []byte("x"), 0o644))

	_, err := runJob(t, newFakeExtractor(dirMsg("A"), urlMsg(1)), cfg)
	assert.ErrorIs(t, err, status.ErrTerminate)
}

func TestRangeFastForward(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.ImageRange = "3-"

	extr := newFakeExtractor(dirMsg("A"), urlMsg(3), urlMsg(4))
	st, err := runJob(t, extr, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Equal(t, 2, extr.skipped, "lower bound 3 fast-forwards past two items")
	assert.Len(t, mockDL.downloads, 2)
}

func TestRangeStopsStream(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.ImageRange = "1-2"

	extr := newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2), urlMsg(3), urlMsg(4))
	st, err := runJob(t, extr, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Len(t, mockDL.downloads, 2)
	assert.Equal(t, 4, extr.pos, "the stream ends right after the range is exhausted")
}

func TestMalformedFilterDropsAndFlags(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.ImageFilter = "((("

	st, err := runJob(t, newFakeExtractor(dirMsg("A"), urlMsg(1)), cfg)
	require.NoError(t, err)
	assert.NotZero(t, st&status.Format)
	assert.Len(t, mockDL.downloads, 1, "a dropped filter rejects nothing")
}

// dirCyclePP records every directory open and close it observes.
type dirCyclePP struct {
	events *[]string
}

func (p *dirCyclePP) Hooks() map[hook.Event]hook.Callback {
	return map[hook.Event]hook.Callback{
		hook.Post: func(*pathfmt.Context) error {
			*p.events = append(*p.events, "post")
			return nil
		},
		hook.PostAfter: func(*pathfmt.Context) error {
			*p.events = append(*p.events, "post-after")
			return nil
		},
	}
}

func init() {
	postprocessor.Register("dircycle", func(opts map[string]any, _ *slog.Logger) (postprocessor.Postprocessor, error) {
		return &dirCyclePP{events: opts["sink"].(*[]string)}, nil
	})
}

func TestDirectoryContextsAllClosed(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	var events []string
	cfg.Postprocessors = []config.Postprocessor{
		{Name: "dircycle", Options: map[string]any{"sink": &events}},
	}

	extr := newFakeExtractor(dirMsg("A"), urlMsg(1), dirMsg("B"), urlMsg(2))
	st, err := runJob(t, extr, cfg)
	require.NoError(t, err)
	require.Equal(t, status.OK, st)

	assert.Equal(t, []string{"post", "post-after", "post", "post-after"}, events,
		"every directory context opens and closes, including the last one")
}

func TestParentMetadataNested(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.ParentMetadata = "parent"

	var childMeta message.Metadata
	childFactory := extractor.Factory(func(string) (extractor.Extractor, error) {
		msg := urlMsg(9)
		childMeta = msg.Meta
		return newFakeExtractor(dirMsg("child"), msg), nil
	})

	parent := newFakeExtractor(
		dirMsg("parent"),
		message.Queue("mock://child/x", message.Metadata{
			extractor.HintKey: childFactory,
			"series":          "s1",
		}),
	)
	_, err := runJob(t, parent, cfg)
	require.NoError(t, err)

	nested, ok := childMeta["parent"].(message.Metadata)
	require.True(t, ok, "parent metadata should be nested under the configured key")
	assert.Equal(t, "s1", nested["series"])
}

func TestParentMetadataChain(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.ParentMetadata = "*"

	var leafMeta message.Metadata
	leafFactory := extractor.Factory(func(string) (extractor.Extractor, error) {
		msg := urlMsg(7)
		leafMeta = msg.Meta
		return newFakeExtractor(dirMsg("leaf"), msg), nil
	})
	midFactory := extractor.Factory(func(string) (extractor.Extractor, error) {
		return newFakeExtractor(
			dirMsg("mid"),
			message.Queue("mock://leaf/x", message.Metadata{
				extractor.HintKey: leafFactory,
				"volume":          2,
			}),
		), nil
	})

	root := newFakeExtractor(
		dirMsg("root"),
		message.Queue("mock://mid/x", message.Metadata{
			extractor.HintKey: midFactory,
			"series":          "s1",
			"_marker":         "kept",
		}),
	)
	_, err := runJob(t, root, cfg)
	require.NoError(t, err)

	assert.Equal(t, "s1", leafMeta["series"], "grandparent metadata survives two levels")
	assert.Equal(t, 2, leafMeta["volume"])
	assert.Equal(t, "kept", leafMeta["_marker"], "internal keys propagate with the rest")
}

func TestUnsupportedQueueURLSink(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)
	cfg.UnsupportedFile = filepath.Join(t.TempDir(), "unsupported.txt")

	parent := newFakeExtractor(
		dirMsg("parent"),
		message.Queue("nothing://matches/this", nil),
	)
	st, err := runJob(t, parent, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)

	data, err := os.ReadFile(cfg.UnsupportedFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "nothing://matches/this")
}

func TestChildRestartLoop(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)

	attempts := 0
	childFactory := extractor.Factory(func(string) (extractor.Extractor, error) {
		attempts++
		if attempts == 1 {
			return &restartingExtractor{fakeExtractor: newFakeExtractor()}, nil
		}
		return newFakeExtractor(dirMsg("child")), nil
	})

	parent := newFakeExtractor(
		dirMsg("parent"),
		message.Queue("mock://child/restarting", message.Metadata{extractor.HintKey: childFactory}),
	)
	st, err := runJob(t, parent, cfg)
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Equal(t, 2, attempts, "a restart rebuilds and re-runs the child once more")
}

// restartingExtractor raises the restart signal on its first message.
type restartingExtractor struct {
	*fakeExtractor
}

func (r *restartingExtractor) Next(context.Context) (*message.Message, error) {
	return nil, status.ErrRestart
}

func TestNoExtractorError(t *testing.T) {
	_, err := New("nothing://matches", testCfg(t), testLogger(), nil, nil)
	assert.Error(t, err)
}

func TestURLJobPrints(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)

	extr := newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2))
	j := &URLJob{
		Job:      newJob(extr, cfg, testLogger(), nil),
		MaxDepth: 1,
		visited:  make(map[string]struct{}),
	}
	var buf writerBuffer
	j.W = &buf
	j.h = j

	st, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Equal(t, "mock://site/1.jpg\nmock://site/2.jpg\n", buf.String())
	assert.Empty(t, mockDL.downloads)
}

type writerBuffer struct {
	data []byte
}

func (w *writerBuffer) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *writerBuffer) String() string { return string(w.data) }

func TestSimulationJobCounts(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)

	extr := newFakeExtractor(dirMsg("A"), urlMsg(1), urlMsg(2))
	j := &SimulationJob{Job: newJob(extr, cfg, testLogger(), nil)}
	j.h = j

	st, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.OK, st)
	assert.Equal(t, 2, j.Results)
	assert.Empty(t, mockDL.downloads)
}

func TestGenericErrorSetsErrorBit(t *testing.T) {
	mockDL.reset()
	cfg := testCfg(t)

	extr := &failingExtractor{fakeExtractor: newFakeExtractor(dirMsg("A"), urlMsg(1))}
	st, err := runJob(t, extr, cfg)
	require.NoError(t, err)
	assert.NotZero(t, st&status.Error)
}

// failingExtractor errors after replaying its messages.
type failingExtractor struct {
	*fakeExtractor
}

func (f *failingExtractor) Next(ctx context.Context) (*message.Message, error) {
	msg, err := f.fakeExtractor.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, errors.New("connection reset")
	}
	return msg, err
}
