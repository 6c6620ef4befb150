// Package predicate implements the stateful boolean filters applied to
// candidate messages before they reach a handler.
package predicate

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/brensch/harvest/internal/message"
)

// Predicate decides whether a candidate (url, metadata) pair is handled.
// Implementations may carry mutable state (seen sets, position counters)
// that must advance exactly once per Check call.
type Predicate interface {
	Check(url string, md message.Metadata) (bool, error)
}

// True accepts everything.
var True Predicate = truePredicate{}

type truePredicate struct{}

func (truePredicate) Check(string, message.Metadata) (bool, error) { return true, nil }

// And composes predicates. Every component is evaluated on every call,
// in order, even once the overall result is known to be false: Unique
// and Range predicates carry counters that must advance exactly once per
// candidate.
func And(preds ...Predicate) Predicate {
	switch len(preds) {
	case 0:
		return True
	case 1:
		return preds[0]
	}
	return andPredicate(preds)
}

type andPredicate []Predicate

func (a andPredicate) Check(url string, md message.Metadata) (bool, error) {
	result := true
	var firstErr error
	for _, p := range a {
		ok, err := p.Check(url, md)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !ok {
			result = false
		}
	}
	if firstErr != nil {
		return false, firstErr
	}
	return result, nil
}

// Unique remembers every URL it has accepted and rejects repeats.
type Unique struct {
	seen map[string]struct{}
}

func NewUnique() *Unique {
	return &Unique{seen: make(map[string]struct{})}
}

func (u *Unique) Check(url string, _ message.Metadata) (bool, error) {
	if _, ok := u.seen[url]; ok {
		return false, nil
	}
	u.seen[url] = struct{}{}
	return true, nil
}

// Filter evaluates a boolean expression against metadata fields.
type Filter struct {
	src  string
	prog *vm.Program
}

// NewFilter compiles the expression. A malformed expression surfaces here
// so callers can log and drop the predicate instead of failing the run.
func NewFilter(src string) (*Filter, error) {
	prog, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}
	return &Filter{src: src, prog: prog}, nil
}

func (f *Filter) Check(_ string, md message.Metadata) (bool, error) {
	out, err := expr.Run(f.prog, map[string]any(md))
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.src, err)
	}
	return Truthy(out), nil
}

// Truthy interprets an expression result as a boolean: nil, false,
// numeric zero, empty strings and empty collections are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
