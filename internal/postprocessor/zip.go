package postprocessor

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brensch/harvest/internal/hook"
	"github.com/brensch/harvest/internal/pathfmt"
)

func init() {
	Register("zip", newZip)
}

// zipPP collects finished files into one zip archive per target
// directory. The writer opens lazily on the first file and closes on
// job finalize.
type zipPP struct {
	extension string
	keepFiles bool
	log       *slog.Logger

	path string
	file *os.File
	zw   *zip.Writer
}

func newZip(opts map[string]any, log *slog.Logger) (Postprocessor, error) {
	return &zipPP{
		extension: optString(opts, "extension", "zip"),
		keepFiles: optBool(opts, "keep-files", false),
		log:       log,
	}, nil
}

func (p *zipPP) Hooks() map[hook.Event]hook.Callback {
	return map[hook.Event]hook.Callback{
		hook.File:     p.add,
		hook.Finalize: p.finalize,
	}
}

func (p *zipPP) add(pc *pathfmt.Context) error {
	if pc.TempPath == "" && pc.Path == "" {
		return nil
	}
	src := pc.TempPath
	if src == "" {
		src = pc.Path
	}
	if p.zw == nil {
		p.path = pc.Directory + "." + p.extension
		f, err := os.Create(p.path)
		if err != nil {
			return fmt.Errorf("create zip %s: %w", p.path, err)
		}
		p.file = f
		p.zw = zip.NewWriter(f)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s for zip: %w", src, err)
	}
	defer in.Close()

	w, err := p.zw.Create(filepath.Base(pc.Path))
	if err != nil {
		return fmt.Errorf("add %s to zip: %w", pc.Path, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("copy %s into zip: %w", src, err)
	}

	if !p.keepFiles {
		// Consume the artifact: drop the temp file so the engine has
		// nothing to move into place.
		in.Close()
		os.Remove(src)
		pc.TempPath = ""
	}
	return nil
}

func (p *zipPP) finalize(pc *pathfmt.Context) error {
	if p.zw == nil {
		return nil
	}
	err := p.zw.Close()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	p.zw = nil
	p.file = nil
	if err != nil {
		return fmt.Errorf("close zip %s: %w", p.path, err)
	}
	p.log.Info("wrote zip", slog.String("path", p.path))
	return nil
}
