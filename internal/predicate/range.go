package predicate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/status"
)

// span is one admitted window of 1-indexed positions. stop is inclusive
// after parsing; open-ended spans use math.MaxInt.
type span struct {
	start, stop, step int
}

func (s span) contains(i int) bool {
	return i >= s.start && i <= s.stop && (i-s.start)%s.step == 0
}

// Range admits candidates by their position in the stream. Each instance
// holds its own counter, advanced once per Check. Once the counter passes
// the highest admitted position the predicate raises a soft stop so the
// extractor does not keep producing items nobody wants.
type Range struct {
	Index int
	Lower int
	Upper int // math.MaxInt when any span is open-ended
	spans []span
}

// NewRange parses specs like "5", "8-20", "1:24:3" or comma-separated
// combinations. "a-b" bounds are inclusive; "a:b:c" follows slice
// semantics with an exclusive stop. Positions are 1-indexed.
func NewRange(spec string) (*Range, error) {
	r := &Range{Lower: math.MaxInt}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sp, err := parseSpan(part)
		if err != nil {
			return nil, err
		}
		r.spans = append(r.spans, sp)
		if sp.start < r.Lower {
			r.Lower = sp.start
		}
		if sp.stop > r.Upper {
			r.Upper = sp.stop
		}
	}
	if len(r.spans) == 0 {
		return nil, fmt.Errorf("empty range %q", spec)
	}
	return r, nil
}

func parseSpan(part string) (span, error) {
	bad := func() (span, error) {
		return span{}, fmt.Errorf("invalid range %q", part)
	}

	if strings.Contains(part, ":") {
		fields := strings.Split(part, ":")
		if len(fields) > 3 {
			return bad()
		}
		sp := span{start: 1, stop: math.MaxInt, step: 1}
		var err error
		if fields[0] != "" {
			if sp.start, err = strconv.Atoi(fields[0]); err != nil {
				return bad()
			}
		}
		if len(fields) > 1 && fields[1] != "" {
			stop, err := strconv.Atoi(fields[1])
			if err != nil {
				return bad()
			}
			sp.stop = stop - 1 // exclusive stop
		}
		if len(fields) > 2 && fields[2] != "" {
			if sp.step, err = strconv.Atoi(fields[2]); err != nil || sp.step < 1 {
				return bad()
			}
		}
		if sp.start < 1 || sp.stop < sp.start {
			return bad()
		}
		return sp, nil
	}

	if idx := strings.Index(part, "-"); idx >= 0 {
		sp := span{start: 1, stop: math.MaxInt, step: 1}
		var err error
		if first := part[:idx]; first != "" {
			if sp.start, err = strconv.Atoi(first); err != nil {
				return bad()
			}
		}
		if last := part[idx+1:]; last != "" {
			if sp.stop, err = strconv.Atoi(last); err != nil {
				return bad()
			}
		}
		if sp.start < 1 || sp.stop < sp.start {
			return bad()
		}
		return sp, nil
	}

	n, err := strconv.Atoi(part)
	if err != nil || n < 1 {
		return bad()
	}
	return span{start: n, stop: n, step: 1}, nil
}

func (r *Range) Check(_ string, _ message.Metadata) (bool, error) {
	r.Index++
	if r.Index > r.Upper {
		return false, &status.StopError{}
	}
	for _, sp := range r.spans {
		if sp.contains(r.Index) {
			return true, nil
		}
	}
	return false, nil
}
