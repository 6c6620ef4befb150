package predicate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/status"
)

// countingPredicate records how often it was evaluated.
type countingPredicate struct {
	calls  int
	result bool
}

func (c *countingPredicate) Check(string, message.Metadata) (bool, error) {
	c.calls++
	return c.result, nil
}

func TestAndEvaluatesEveryComponent(t *testing.T) {
	first := &countingPredicate{result: false}
	second := &countingPredicate{result: true}
	third := &countingPredicate{result: true}

	p := And(first, second, third)
	for i := 0; i < 3; i++ {
		ok, err := p.Check("http://x/1", nil)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// No short-circuit: later components advance once per call.
	assert.Equal(t, 3, first.calls)
	assert.Equal(t, 3, second.calls)
	assert.Equal(t, 3, third.calls)
}

func TestAndAllTrue(t *testing.T) {
	p := And(&countingPredicate{result: true}, &countingPredicate{result: true})
	ok, err := p.Check("http://x/1", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAndEmpty(t *testing.T) {
	ok, err := And().Check("http://x/1", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnique(t *testing.T) {
	u := NewUnique()

	ok, _ := u.Check("http://x/1.jpg", nil)
	assert.True(t, ok)
	ok, _ = u.Check("http://x/2.jpg", nil)
	assert.True(t, ok)
	ok, _ = u.Check("http://x/1.jpg", nil)
	assert.False(t, ok)
}

func TestFilter(t *testing.T) {
	f, err := NewFilter(`width >= 1000 && extension != "gif"`)
	require.NoError(t, err)

	ok, err := f.Check("", message.Metadata{"width": 1920, "extension": "jpg"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Check("", message.Metadata{"width": 400, "extension": "jpg"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilterMalformed(t *testing.T) {
	_, err := NewFilter("width >=")
	assert.Error(t, err)
}

func TestRangeInclusiveDash(t *testing.T) {
	r, err := NewRange("2-3")
	require.NoError(t, err)

	var got []bool
	for i := 0; i < 3; i++ {
		ok, err := r.Check("", nil)
		require.NoError(t, err)
		got = append(got, ok)
	}
	assert.Equal(t, []bool{false, true, true}, got)

	// Past the upper bound the predicate raises a soft stop.
	_, err = r.Check("", nil)
	var stop *status.StopError
	assert.True(t, errors.As(err, &stop))
}

func TestRangeSliceWithStep(t *testing.T) {
	r, err := NewRange("1:5:2")
	require.NoError(t, err)

	var admitted []int
	for i := 1; i <= 4; i++ {
		ok, err := r.Check("", nil)
		require.NoError(t, err)
		if ok {
			admitted = append(admitted, i)
		}
	}
	assert.Equal(t, []int{1, 3}, admitted)
}

func TestRangeSingle(t *testing.T) {
	r, err := NewRange("5")
	require.NoError(t, err)
	assert.Equal(t, 5, r.Lower)
	assert.Equal(t, 5, r.Upper)
}

func TestRangeOpenEnd(t *testing.T) {
	r, err := NewRange("10-")
	require.NoError(t, err)
	assert.Equal(t, 10, r.Lower)

	for i := 0; i < 9; i++ {
		ok, err := r.Check("", nil)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := r.Check("", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRangeCommaList(t *testing.T) {
	r, err := NewRange("2, 5-6")
	require.NoError(t, err)

	var admitted []int
	for i := 1; i <= 6; i++ {
		ok, err := r.Check("", nil)
		require.NoError(t, err)
		if ok {
			admitted = append(admitted, i)
		}
	}
	assert.Equal(t, []int{2, 5, 6}, admitted)
}

func TestRangeInvalid(t *testing.T) {
	for _, spec := range []string{"", "abc", "0-3", "9-2", "1:2:0"} {
		_, err := NewRange(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}
