package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver registration.
	"github.com/pressly/goose/v3"

	"whistleblower/migrations"
)

const postgresConnectTimeout = 5 * time.Second

// Postgres implements Storage backed by a Postgres database. It shares the
// records table layout with the SQLite backend.
type Postgres struct {
	records
}

// NewPostgres connects to the database at dsn and runs pending migrations.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := migrations.Run(ctx, db, goose.DialectPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Postgres{records: records{
		db: db,
		q: queries{
			get: `SELECT doc FROM records WHERE record_key = $1`,
			put: `INSERT INTO records (record_key, doc, updated_at) VALUES ($1, $2, $3)
			      ON CONFLICT (record_key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
			delete: `DELETE FROM records WHERE record_key = $1`,
			list:   `SELECT record_key FROM records WHERE left(record_key, 1) = $1 ORDER BY record_key`,
			setDM:  `UPDATE records SET doc = jsonb_set(doc::jsonb, '{dm_channel_id}', to_jsonb($1::text))::text, updated_at = $2
			        WHERE record_key = $3`,
		},
	}}, nil
}

// Close closes the underlying database connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
