// Package archive implements the persistent key-presence store used to
// skip previously completed items across runs.
package archive

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/brensch/harvest/internal/format"
	"github.com/brensch/harvest/internal/message"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS archive (entry TEXT PRIMARY KEY) WITHOUT ROWID;`

// KeyOverride lets an extractor force an exact archive key through
// metadata, bypassing the key template.
const KeyOverride = "_archive_key"

// Archive records one key per completed item in a SQLite file. Keys are
// derived from metadata through a per-extractor template; two metadata
// records describing the same logical item must format to the same key.
//
// An Archive is opened once per top-level run and shared by reference
// with every child job. Access is strictly sequential, so no locking.
type Archive struct {
	db     *sql.DB
	keyFmt format.Formatter
	cached string
}

// Open creates or opens the archive database at path. keyFmt is the
// archive-key template for this run's extractor.
func Open(path string, keyFmt format.Formatter) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}
	return &Archive{db: db, keyFmt: keyFmt}, nil
}

// Key formats the archive key for md. A KeyOverride entry in the
// metadata wins over the template.
func (a *Archive) Key(md message.Metadata) (string, error) {
	if key := md.String(KeyOverride); key != "" {
		return key, nil
	}
	return a.keyFmt.Format(md)
}

// Check reports whether md's item has already been recorded. The
// formatted key is cached for the Add that usually follows.
func (a *Archive) Check(md message.Metadata) (bool, error) {
	key, err := a.Key(md)
	if err != nil {
		return false, err
	}
	a.cached = key

	var one int
	err = a.db.QueryRow(`SELECT 1 FROM archive WHERE entry = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("archive check %q: %w", key, err)
	}
	return true, nil
}

// Add records md's item. It reuses the key cached by the preceding Check
// when present, formatting only when Add is called on its own.
func (a *Archive) Add(md message.Metadata) error {
	key := a.cached
	if key == "" {
		var err error
		if key, err = a.Key(md); err != nil {
			return err
		}
	}
	a.cached = ""

	if _, err := a.db.Exec(`INSERT OR IGNORE INTO archive (entry) VALUES (?)`, key); err != nil {
		return fmt.Errorf("archive add %q: %w", key, err)
	}
	return nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}
