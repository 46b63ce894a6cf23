// Package storage persists test plan and report artifacts: file content
// on disk, metadata in SQLite. The orchestration core consumes it only
// through narrow interfaces; nothing here participates in scheduling.
package storage

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/colinzhu/jmeter-web-runner-sub000/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS test_plans (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	path        TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	uploaded_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	path         TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_execution ON reports(execution_id);
`

// Open opens (creating if needed) the metadata database at path and
// applies the schema.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies the storage schema to an open database
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to apply storage schema")
	}
	return nil
}
