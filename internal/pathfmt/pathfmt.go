// Package pathfmt tracks the output location of the item currently being
// handled: resolved directory, filename, temporary and final paths.
// Directory and filename templates are collaborator-provided Formatters;
// this package only orchestrates them against the filesystem.
package pathfmt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/brensch/harvest/internal/format"
	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/status"
)

// Context is the mutable path state of one job. A Directory message
// switches its directory; every Url message sets a fresh filename.
// Hooks receive the Context and may adjust it (extension fixes and the
// like) before the final path is built.
type Context struct {
	BaseDir   string
	Directory string
	Filename  string
	Path      string // final location, empty until BuildPath
	TempPath  string // in-flight artifact, empty when nothing was written
	Meta      message.Metadata

	// Status is filled in right before finalize hooks fire so they can
	// see the job outcome.
	Status status.Status

	dirFmt    format.Formatter
	nameFmt   format.Formatter
	enumerate bool
}

func New(baseDir string, dirFmt, nameFmt format.Formatter) *Context {
	return &Context{
		BaseDir:   baseDir,
		Directory: baseDir,
		dirFmt:    dirFmt,
		nameFmt:   nameFmt,
	}
}

// SetEnumerate switches Exists into enumeration mode: an occupied path
// is sidestepped by suffixing a counter instead of being treated as a
// completed item.
func (c *Context) SetEnumerate(on bool) { c.enumerate = on }

// SetDirectory resolves the directory template against md and creates
// the directory under BaseDir.
func (c *Context) SetDirectory(md message.Metadata) error {
	dir, err := c.dirFmt.Format(md)
	if err != nil {
		return err
	}
	c.Directory = filepath.Join(c.BaseDir, dir)
	if err := os.MkdirAll(c.Directory, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.Directory, err)
	}
	return nil
}

// SetFilename resolves the filename template against md and resets the
// per-item path state.
func (c *Context) SetFilename(md message.Metadata) error {
	c.Meta = md
	c.Path = ""
	c.TempPath = ""
	name, err := c.nameFmt.Format(md)
	if err != nil {
		return err
	}
	c.Filename = name
	return nil
}

// FixExtension re-resolves the filename from the current metadata. Hooks
// that corrected the "extension" entry call this to keep archive-only
// bookkeeping consistent with what a real download would have produced.
func (c *Context) FixExtension() bool {
	if c.Meta == nil {
		return true
	}
	if name, err := c.nameFmt.Format(c.Meta); err == nil {
		c.Filename = name
		if c.Path != "" {
			c.Path = filepath.Join(c.Directory, c.Filename)
		}
	}
	return true
}

// BuildPath combines the current directory and filename into the final
// target path.
func (c *Context) BuildPath() {
	c.Path = filepath.Join(c.Directory, c.Filename)
}

// Exists reports whether the final path is already occupied by a regular
// file. In enumeration mode it instead moves Path to the next free
// "name.N" slot and reports false.
func (c *Context) Exists() bool {
	if c.Path == "" {
		return false
	}
	if !regularFile(c.Path) {
		return false
	}
	if !c.enumerate {
		return true
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d", filepath.Join(c.Directory, c.Filename), n)
		if !regularFile(candidate) {
			c.Path = candidate
			return false
		}
	}
}

// Finalize atomically moves the temporary artifact to its final
// location. Calling it without a pending temp file is a no-op.
func (c *Context) Finalize() error {
	if c.TempPath == "" || c.TempPath == c.Path {
		c.TempPath = ""
		return nil
	}
	if err := os.Rename(c.TempPath, c.Path); err != nil {
		return err
	}
	c.TempPath = ""
	return nil
}

// RemoveTemp discards partial data between fallback attempts.
func (c *Context) RemoveTemp() {
	if c.TempPath != "" && c.TempPath != c.Path {
		os.Remove(c.TempPath)
		c.TempPath = ""
	}
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
