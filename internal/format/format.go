// Package format resolves metadata into strings: archive keys, filenames
// and directory segments. The engine only ever talks to the Formatter
// interface; the default implementation is a thin text/template wrapper.
package format

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/brensch/harvest/internal/message"
)

// Formatter turns a metadata record into a string. Implementations must
// be deterministic: equal metadata always yields an equal result, which
// is what archive dedup correctness rests on.
type Formatter interface {
	Format(md message.Metadata) (string, error)
}

type tmplFormatter struct {
	src  string
	tmpl *template.Template
}

// New compiles a text/template string into a Formatter. Missing keys are
// an error at format time, not silently empty, so a bad archive template
// cannot produce colliding keys.
func New(src string) (Formatter, error) {
	tmpl, err := template.New("format").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse format %q: %w", src, err)
	}
	return &tmplFormatter{src: src, tmpl: tmpl}, nil
}

// MustNew is New for templates known good at compile time.
func MustNew(src string) Formatter {
	f, err := New(src)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *tmplFormatter) Format(md message.Metadata) (string, error) {
	var b strings.Builder
	if err := f.tmpl.Execute(&b, map[string]any(md)); err != nil {
		return "", fmt.Errorf("format %q: %w", f.src, err)
	}
	return b.String(), nil
}

func (f *tmplFormatter) String() string { return f.src }

// Func adapts a plain function to the Formatter interface. Used by tests
// and by collaborators that bring their own formatting.
type Func func(md message.Metadata) (string, error)

func (fn Func) Format(md message.Metadata) (string, error) { return fn(md) }
