package config

import "time"

const (
	// DefaultHTTPTimeout bounds a single download request.
	DefaultHTTPTimeout = 120 * time.Second

	// DefaultBaseDirectory is where resolved directory templates are rooted.
	DefaultBaseDirectory = "./downloads"
)

// Postprocessor describes one post-processing plugin instance from
// configuration. Options are interpreted by the plugin itself.
type Postprocessor struct {
	Name      string
	Filter    string // boolean expression gating every hook invocation
	Whitelist []string
	Blacklist []string
	Options   map[string]any
}

// Config holds the settings a job tree consumes. Loading it (flags,
// config files) happens in cmd; this package only carries the values.
type Config struct {
	BaseDirectory string

	// Download archive. An empty Archive path disables dedup across runs.
	Archive       string
	ArchivePrefix string // defaults to the extractor category
	ArchiveFormat string // overrides the extractor's archive-key template

	// Skip policy: "" or "true" (default), "false", "enumerate",
	// "abort[:N]", "terminate[:N]", "exit[:N]".
	Skip string

	// Download behavior.
	Download bool // false turns handle_url into archive bookkeeping only
	Fallback bool // try alternate URLs from metadata after a failure
	Sleep    time.Duration

	// Per-namespace predicate specs.
	ImageUnique   bool
	ImageFilter   string
	ImageRange    string
	ChapterUnique bool
	ChapterFilter string
	ChapterRange  string

	// Category filter applied when resolving Queue URLs.
	Whitelist []string
	Blacklist []string

	// Parent propagation for child jobs.
	ParentDirectory  bool
	ParentMetadata   string // "" off, "*" merge flat, otherwise nest under key
	ParentSkip       bool
	CategoryTransfer bool

	// MetadataURLKey, when set, stamps the source URL into metadata under
	// this key before predicates run.
	MetadataURLKey string

	// Keywords are static key/value pairs injected into every message's
	// metadata by the dispatcher.
	Keywords map[string]any

	// UnsupportedFile collects Queue URLs no extractor claimed.
	UnsupportedFile string

	Postprocessors []Postprocessor

	// StateDB is the optional DuckDB file recording the run event log.
	StateDB string
}

// Default returns a Config with the baseline behavior: downloads on,
// fallback on, normal skip handling.
func Default() *Config {
	return &Config{
		BaseDirectory: DefaultBaseDirectory,
		Download:      true,
		Fallback:      true,
	}
}
