// Package inspector summarizes the parquet manifests written by the
// parquet postprocessor. It leans on DuckDB's read_parquet so no row
// ever has to be decoded in Go.
package inspector

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// InspectManifests walks dir for .parquet files and prints, per file,
// its row count and schema, followed by a per-category rollup across
// all manifests.
func InspectManifests(ctx context.Context, log *slog.Logger, dir string) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(path), ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s for manifests: %w", dir, err)
	}
	if len(files) == 0 {
		log.Info("no parquet manifests found", slog.String("dir", dir))
		return nil
	}
	sort.Strings(files)

	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open in-memory duckdb: %w", err)
	}
	defer conn.Close()

	fmt.Printf("--- Parquet Manifests (%d files) ---\n", len(files))
	for _, file := range files {
		if err := describeManifest(ctx, conn, file); err != nil {
			log.Warn("could not inspect manifest", slog.String("file", file), slog.Any("error", err))
		}
	}

	return categoryRollup(ctx, conn, files)
}

func describeManifest(ctx context.Context, conn *sql.DB, file string) error {
	escaped := strings.ReplaceAll(file, "'", "''")

	var rowCount int64
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM read_parquet('%s');`, escaped)
	if err := conn.QueryRowContext(ctx, countSQL).Scan(&rowCount); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}

	describeSQL := fmt.Sprintf(`DESCRIBE SELECT * FROM read_parquet('%s');`, escaped)
	rows, err := conn.QueryContext(ctx, describeSQL)
	if err != nil {
		return fmt.Errorf("describe schema: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name, typ string
		var null, key, def, extra sql.NullString
		if err := rows.Scan(&name, &typ, &null, &key, &def, &extra); err != nil {
			return fmt.Errorf("scan schema row: %w", err)
		}
		cols = append(cols, fmt.Sprintf("%s %s", name, typ))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fmt.Printf("%-60s | %8d rows | %s\n", filepath.Base(file), rowCount, strings.Join(cols, ", "))
	return nil
}

// categoryRollup aggregates every manifest that carries a category
// column into per-category file counts.
func categoryRollup(ctx context.Context, conn *sql.DB, files []string) error {
	quoted := make([]string, len(files))
	for i, file := range files {
		quoted[i] = "'" + strings.ReplaceAll(file, "'", "''") + "'"
	}
	fileList := "[" + strings.Join(quoted, ", ") + "]"

	rollupSQL := fmt.Sprintf(`
        SELECT category, COUNT(*) AS files
        FROM read_parquet(%s, union_by_name=true)
        WHERE category IS NOT NULL
        GROUP BY category
        ORDER BY files DESC, category;`, fileList)

	rows, err := conn.QueryContext(ctx, rollupSQL)
	if err != nil {
		// Manifests with disjoint schemas still produced per-file output
		// above, so a failed rollup is not fatal.
		return nil
	}
	defer rows.Close()

	fmt.Println("--- Files per category ---")
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return fmt.Errorf("scan rollup row: %w", err)
		}
		fmt.Printf("%-30s %8d\n", category, count)
	}
	return rows.Err()
}
