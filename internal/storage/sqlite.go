package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"whistleblower/migrations"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	records
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// An in-memory database exists per connection.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := migrations.Run(context.Background(), db, goose.DialectSQLite3); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{records: records{
		db: db,
		q: queries{
			get: `SELECT doc FROM records WHERE record_key = ?`,
			put: `INSERT INTO records (record_key, doc, updated_at) VALUES (?, ?, ?)
			      ON CONFLICT(record_key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
			delete: `DELETE FROM records WHERE record_key = ?`,
			list:   `SELECT record_key FROM records WHERE substr(record_key, 1, 1) = ? ORDER BY record_key`,
			setDM:  `UPDATE records SET doc = json_set(doc, '$.dm_channel_id', ?), updated_at = ? WHERE record_key = ?`,
		},
	}}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
