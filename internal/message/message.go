// Package message defines the typed records an extractor yields and the
// metadata attached to them.
package message

// Kind discriminates the message variants.
type Kind int

const (
	// KindDirectory opens a new output context. It logically groups all
	// subsequent Url/Queue records until the next Directory.
	KindDirectory Kind = iota + 1
	// KindURL points at a downloadable file.
	KindURL
	// KindQueue points at a sub-URL to be handled by a nested extractor.
	KindQueue
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindURL:
		return "url"
	case KindQueue:
		return "queue"
	}
	return "unknown"
}

// Message is one record of the ordered stream an extractor produces.
// URL is empty for Directory messages.
type Message struct {
	Kind Kind
	URL  string
	Meta Metadata
}

func Directory(meta Metadata) *Message {
	return &Message{Kind: KindDirectory, Meta: meta}
}

func URL(url string, meta Metadata) *Message {
	return &Message{Kind: KindURL, URL: url, Meta: meta}
}

func Queue(url string, meta Metadata) *Message {
	return &Message{Kind: KindQueue, URL: url, Meta: meta}
}

// Metadata is the string-keyed mapping carried by every message. It is
// created by the extractor, augmented by the dispatcher and handlers, and
// discarded once its message has been handled. Keys starting with "_" are
// internal and excluded from user-facing output.
type Metadata map[string]any

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into m, overwriting existing keys.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}

// Public returns a copy with internal ("_"-prefixed) keys removed.
func (m Metadata) Public() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the value under key if it is a string, otherwise "".
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
