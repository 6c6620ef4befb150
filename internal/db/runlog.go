// Package db keeps the optional run event log, a DuckDB database that
// records what every run discovered, downloaded, skipped and failed.
// The log is append-only and purely observational; skip decisions come
// from the download archive, never from here.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

const (
	EventDiscovered    = "discovered"
	EventDownloadStart = "download_start"
	EventDownloadEnd   = "download_end"
	EventSkip          = "skip"
	EventQueue         = "queue"
	EventError         = "error"
)

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS run_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS run_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('run_log_id_seq'),
    url             VARCHAR NOT NULL,
    category        VARCHAR,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    output_path     VARCHAR,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_run_event_log_url ON run_event_log (url);
CREATE INDEX IF NOT EXISTS idx_run_event_log_event_time ON run_event_log (event, event_timestamp);
`

// RunLog wraps the DuckDB handle. A nil *RunLog is valid and drops all
// writes, so callers never branch on whether logging is enabled.
type RunLog struct {
	db *sql.DB
}

// Open connects to (or creates) the DuckDB file at path and ensures
// the schema exists.
func Open(path string) (*RunLog, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	if err := initializeSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &RunLog{db: conn}, nil
}

func (l *RunLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSequenceSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("create run log sequence: %w", err)
	}
	if _, err := db.Exec(schemaTableSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("create run log table: %w", err)
	}
	return nil
}

// Event inserts one record. Errors are returned so callers can log
// them, but the engine treats run log failures as non-fatal.
func (l *RunLog) Event(ctx context.Context, url, category, event, outputPath, message string, duration *time.Duration) error {
	if l == nil || l.db == nil {
		return nil
	}
	query := `
        INSERT INTO run_event_log (url, category, event, event_timestamp, output_path, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if duration != nil {
		durationMs = sql.NullInt64{Int64: duration.Milliseconds(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, query,
		url,
		sql.NullString{String: category, Valid: category != ""},
		event,
		time.Now().UTC(),
		sql.NullString{String: outputPath, Valid: outputPath != ""},
		sql.NullString{String: message, Valid: message != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("log event '%s' for '%s': %w", event, url, err)
	}
	return nil
}

// LatestEvent retrieves the most recent record for a URL.
func (l *RunLog) LatestEvent(ctx context.Context, url string) (event string, timestamp time.Time, message string, found bool, err error) {
	if l == nil || l.db == nil {
		return "", time.Time{}, "", false, nil
	}
	query := `
        SELECT event, event_timestamp, message
        FROM run_event_log
        WHERE url = ?
        ORDER BY event_timestamp DESC, log_id DESC
        LIMIT 1;
    `
	var msg sql.NullString
	row := l.db.QueryRowContext(ctx, query, url)
	err = row.Scan(&event, &timestamp, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, "", false, nil
		}
		return "", time.Time{}, "", false, fmt.Errorf("query latest event for '%s': %w", url, err)
	}
	return event, timestamp, msg.String, true, nil
}

// DisplayHistory prints the most recent records, optionally filtered
// by event type or category.
func (l *RunLog) DisplayHistory(ctx context.Context, eventFilter, categoryFilter string, limit int) error {
	if l == nil || l.db == nil {
		return errors.New("no run log configured")
	}
	query := `
        SELECT url, category, event, event_timestamp, message, duration_ms, output_path
        FROM run_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if categoryFilter != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argCounter))
		args = append(args, categoryFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	fmt.Printf("--- Run Event Log (Limit %d) ---\n", limit)
	fmt.Printf("%-60s | %-12s | %-15s | %-25s | %-10s | %s\n", "URL", "Category", "Event", "Timestamp (UTC)", "DurationMS", "Details")
	fmt.Println(strings.Repeat("-", 150))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query run event log: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var url, event string
		var category, message, outputPath sql.NullString
		var timestamp time.Time
		var durationMs sql.NullInt64
		if err := rows.Scan(&url, &category, &event, &timestamp, &message, &durationMs, &outputPath); err != nil {
			return fmt.Errorf("scan run event log row: %w", err)
		}

		durationStr := ""
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		details := message.String
		if outputPath.Valid && outputPath.String != "" {
			details += fmt.Sprintf(" (Output: %s)", filepath.Base(outputPath.String))
		}

		fmt.Printf("%-60s | %-12s | %-15s | %-25s | %-10s | %s\n",
			url, category.String, event, timestamp.Format(time.RFC3339), durationStr, details)
		count++
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate run event log rows: %w", err)
	}
	fmt.Printf("Displayed %d records.\n", count)
	return nil
}
