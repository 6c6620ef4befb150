package postprocessor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/harvest/internal/hook"
	"github.com/brensch/harvest/internal/pathfmt"
)

func init() {
	Register("parquet", newParquet)
}

// parquetPP appends one row per finished file to a parquet manifest.
// Row values are metadata fields plus the file's final path, all
// written as UTF8 strings. The writer opens lazily on the first file.
type parquetPP struct {
	fields []string
	path   string
	log    *slog.Logger

	fw source.ParquetFile
	pw *writer.CSVWriter
}

func newParquet(opts map[string]any, log *slog.Logger) (Postprocessor, error) {
	fields := optStrings(opts, "fields")
	if len(fields) == 0 {
		fields = []string{"category", "subcategory", "filename", "extension"}
	}
	return &parquetPP{
		fields: fields,
		path:   optString(opts, "path", ""),
		log:    log,
	}, nil
}

func (p *parquetPP) Hooks() map[hook.Event]hook.Callback {
	return map[hook.Event]hook.Callback{
		hook.After:    p.add,
		hook.Finalize: p.finalize,
	}
}

func (p *parquetPP) open(pc *pathfmt.Context) error {
	path := p.path
	if path == "" {
		path = pc.Directory + ".parquet"
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file %s: %w", path, err)
	}

	meta := make([]string, 0, len(p.fields)+1)
	for _, field := range p.fields {
		meta = append(meta, fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", field))
	}
	meta = append(meta, "name=path, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL")

	pw, err := writer.NewCSVWriter(meta, fw, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("init parquet writer %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	p.path = path
	p.fw = fw
	p.pw = pw
	return nil
}

func (p *parquetPP) add(pc *pathfmt.Context) error {
	if pc.Path == "" {
		return nil
	}
	if p.pw == nil {
		if err := p.open(pc); err != nil {
			return err
		}
	}

	rec := make([]*string, 0, len(p.fields)+1)
	for _, field := range p.fields {
		val := pc.Meta.String(field)
		rec = append(rec, &val)
	}
	path := pc.Path
	rec = append(rec, &path)

	if err := p.pw.WriteString(rec); err != nil {
		return fmt.Errorf("write parquet row for %s: %w", pc.Path, err)
	}
	return nil
}

func (p *parquetPP) finalize(pc *pathfmt.Context) error {
	if p.pw == nil {
		return nil
	}
	var errs []error
	if err := p.pw.WriteStop(); err != nil {
		errs = append(errs, fmt.Errorf("stop parquet writer %s: %w", p.path, err))
	}
	if err := p.fw.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close parquet file %s: %w", p.path, err))
	}
	p.pw = nil
	p.fw = nil
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.log.Info("wrote parquet manifest", slog.String("path", p.path))
	return nil
}
