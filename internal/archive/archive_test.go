package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/harvest/internal/format"
	"github.com/brensch/harvest/internal/message"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.sqlite3"), format.MustNew("test_{{.id}}"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCheckThenAdd(t *testing.T) {
	a := openTestArchive(t)
	md := message.Metadata{"id": 1}

	ok, err := a.Check(md)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Add(md))

	ok, err = a.Check(md)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEqualMetadataEqualKey(t *testing.T) {
	a := openTestArchive(t)

	// Two records describing the same logical item: extra keys that the
	// template does not reference must not change the derived key.
	first := message.Metadata{"id": 42, "title": "a"}
	second := message.Metadata{"id": 42, "title": "a", "source": "feed"}

	k1, err := a.Key(first)
	require.NoError(t, err)
	k2, err := a.Key(second)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	require.NoError(t, a.Add(first))
	ok, err := a.Check(second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.sqlite3")
	keyFmt := format.MustNew("{{.id}}")

	a, err := Open(path, keyFmt)
	require.NoError(t, err)
	require.NoError(t, a.Add(message.Metadata{"id": "x1"}))
	require.NoError(t, a.Close())

	a, err = Open(path, keyFmt)
	require.NoError(t, err)
	defer a.Close()

	ok, err := a.Check(message.Metadata{"id": "x1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Check(message.Metadata{"id": "x2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyOverride(t *testing.T) {
	a := openTestArchive(t)

	md := message.Metadata{"id": 9, KeyOverride: "forced"}
	key, err := a.Key(md)
	require.NoError(t, err)
	assert.Equal(t, "forced", key)
}

func TestAddWithoutCheck(t *testing.T) {
	a := openTestArchive(t)
	md := message.Metadata{"id": 7}

	require.NoError(t, a.Add(md))
	ok, err := a.Check(md)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingTemplateKey(t *testing.T) {
	a := openTestArchive(t)
	_, err := a.Check(message.Metadata{"other": 1})
	assert.Error(t, err)
}
