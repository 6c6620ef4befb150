package downloader

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/harvest/internal/output"
	"github.com/brensch/harvest/internal/pathfmt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPDownloadWritesPartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	pc := &pathfmt.Context{Filename: "item.bin", Path: filepath.Join(dir, "item.bin")}

	d := &HTTP{Client: srv.Client(), Out: output.NullReporter{}, Log: testLogger()}
	ok, err := d.Download(context.Background(), srv.URL, pc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pc.Path+".part", pc.TempPath)

	data, err := os.ReadFile(pc.TempPath)
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(data))

	require.NoError(t, pc.Finalize())
	_, err = os.Stat(pc.Path)
	assert.NoError(t, err)
}

func TestHTTPDownloadStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	pc := &pathfmt.Context{Filename: "gone.bin", Path: filepath.Join(dir, "gone.bin")}

	d := &HTTP{Client: srv.Client(), Out: output.NullReporter{}, Log: testLogger()}
	ok, err := d.Download(context.Background(), srv.URL, pc)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Empty(t, pc.TempPath)
}

func TestHTTPReportsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	dir := t.TempDir()
	pc := &pathfmt.Context{Filename: "big.bin", Path: filepath.Join(dir, "big.bin")}

	rec := &recordingReporter{}
	d := &HTTP{Client: srv.Client(), Out: rec, Log: testLogger()}
	_, err := d.Download(context.Background(), srv.URL, pc)
	require.NoError(t, err)
	require.NotEmpty(t, rec.updates)
	assert.Equal(t, int64(4096), rec.updates[len(rec.updates)-1])
}

func TestFindSchemes(t *testing.T) {
	assert.NotNil(t, Find("http"))
	assert.NotNil(t, Find("https"), "https should fall back to the http factory")
	assert.Nil(t, Find("ftp"))
}

type recordingReporter struct {
	updates []int64
}

func (r *recordingReporter) Success(string) {}
func (r *recordingReporter) Skip(string)    {}
func (r *recordingReporter) Progress(name string, current, total int64) {
	r.updates = append(r.updates, current)
}
