package hook

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/pathfmt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInvocationOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.Register(After, func(*pathfmt.Context) error {
		order = append(order, "p1")
		return nil
	})
	r.Register(After, func(*pathfmt.Context) error {
		order = append(order, "p2")
		return nil
	})

	require.NoError(t, r.Invoke(After, &pathfmt.Context{}))
	assert.Equal(t, []string{"p1", "p2"}, order)
}

func TestFilteredCallback(t *testing.T) {
	r := NewRegistry()
	fired := 0

	err := r.RegisterAll(map[Event]Callback{
		After: func(*pathfmt.Context) error {
			fired++
			return nil
		},
	}, `extension == "jpg"`, discardLogger())
	require.NoError(t, err)

	pc := &pathfmt.Context{Meta: message.Metadata{"extension": "jpg"}}
	require.NoError(t, r.Invoke(After, pc))
	assert.Equal(t, 1, fired)

	pc.Meta = message.Metadata{"extension": "gif"}
	require.NoError(t, r.Invoke(After, pc))
	assert.Equal(t, 1, fired)
}

func TestFilterAlwaysFalse(t *testing.T) {
	r := NewRegistry()
	fired := false

	err := r.RegisterAll(map[Event]Callback{
		After: func(*pathfmt.Context) error {
			fired = true
			return nil
		},
	}, "false", discardLogger())
	require.NoError(t, err)

	require.NoError(t, r.Invoke(After, &pathfmt.Context{Meta: message.Metadata{}}))
	assert.False(t, fired)
}

func TestInvalidFilter(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterAll(map[Event]Callback{
		After: func(*pathfmt.Context) error { return nil },
	}, "not (", discardLogger())
	assert.Error(t, err)
}

func TestCallbackErrorStops(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	var after bool

	r.Register(File, func(*pathfmt.Context) error { return boom })
	r.Register(File, func(*pathfmt.Context) error {
		after = true
		return nil
	})

	err := r.Invoke(File, &pathfmt.Context{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, after)
}

func TestParse(t *testing.T) {
	ev, err := Parse("post-after")
	require.NoError(t, err)
	assert.Equal(t, PostAfter, ev)

	_, err = Parse("bogus")
	assert.Error(t, err)
}

func TestHas(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has(Prepare))
	r.Register(Prepare, func(*pathfmt.Context) error { return nil })
	assert.True(t, r.Has(Prepare))
}
