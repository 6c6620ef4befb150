// Package extractor defines the collaborator that turns one site URL
// into an ordered message stream, and the registry that resolves URLs
// to extractor instances.
package extractor

import (
	"context"
	"regexp"

	"github.com/brensch/harvest/internal/message"
)

// Extractor produces the message stream for one input URL. Production is
// lazy: Next is not called again until the previous message has been
// fully handled.
type Extractor interface {
	// URL returns the input URL this instance was built for.
	URL() string
	Category() string
	Subcategory() string

	// Format templates, opaque to the engine beyond handing them to the
	// configured Formatter implementation.
	ArchiveFormat() string
	FilenameFormat() string
	DirectoryFormat() string

	// Next returns the next message, or io.EOF when the stream ends.
	Next(ctx context.Context) (*message.Message, error)

	// Skip fast-forwards past the next n file candidates without
	// producing them, returning how many will be skipped. Extractors
	// that cannot fast-forward return 0.
	Skip(n int) int

	// Finalize releases extractor resources. Always called, exactly
	// once, when the job ends.
	Finalize()
}

// CategoryTransferrer is implemented by extractors whose category can be
// overwritten by a parent job (category-transfer).
type CategoryTransferrer interface {
	TransferCategory(category, subcategory string)
}

// Factory builds an extractor for a URL. Metadata may carry one under
// the HintKey to bypass pattern matching for Queue targets.
type Factory func(url string) (Extractor, error)

// HintKey is the metadata key holding an explicit Factory for a Queue
// message's target.
const HintKey = "_extractor"

type registration struct {
	re      *regexp.Regexp
	factory Factory
}

var registry []registration

// Register adds a (pattern, factory) pair to the resolution table.
// Patterns are tried in registration order.
func Register(pattern string, factory Factory) {
	registry = append(registry, registration{
		re:      regexp.MustCompile(pattern),
		factory: factory,
	})
}

// Find resolves url against the registry, returning the matched factory
// so callers can rebuild the same extractor (restart handling). Both
// results are nil when no pattern matches or construction fails.
func Find(url string) (Extractor, Factory) {
	for _, reg := range registry {
		if reg.re.MatchString(url) {
			extr, err := reg.factory(url)
			if err != nil {
				return nil, nil
			}
			return extr, reg.factory
		}
	}
	return nil, nil
}

// Base carries the identity and format templates shared by extractor
// implementations.
type Base struct {
	Source      string
	Cat         string
	Sub         string
	ArchiveKey  string
	FileTmpl    string
	DirTmpl     string
}

func (b *Base) URL() string             { return b.Source }
func (b *Base) Category() string        { return b.Cat }
func (b *Base) Subcategory() string     { return b.Sub }
func (b *Base) ArchiveFormat() string   { return b.ArchiveKey }
func (b *Base) FilenameFormat() string  { return b.FileTmpl }
func (b *Base) DirectoryFormat() string { return b.DirTmpl }
func (b *Base) Skip(int) int            { return 0 }
func (b *Base) Finalize()               {}

func (b *Base) TransferCategory(category, subcategory string) {
	b.Cat, b.Sub = category, subcategory
}
