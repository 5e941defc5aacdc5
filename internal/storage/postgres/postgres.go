// Package postgres journals telemetry events into a shared Postgres
// database, one row per event, keyed by package and run.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/robofit/arcor2-sub003/internal/storage"
)

const pingTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id   BIGSERIAL PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	event      TEXT NOT NULL,
	data       JSONB,
	package_id TEXT NOT NULL,
	run_id     TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_package_ts ON events(package_id, ts DESC);
`

const (
	insertEvent = `INSERT INTO events (ts, event, data, package_id, run_id) VALUES ($1, $2, $3, $4, $5)`
	selectLast  = `
		SELECT event_id, ts, event, data, package_id, run_id
		FROM events
		WHERE package_id = $1
		ORDER BY ts DESC, event_id DESC
		LIMIT $2`
)

// Options configures New. Password overrides PGPASSWORD when set.
type Options struct {
	PackageID string
	Password  string
}

// Store is the event journal of one package.
type Store struct {
	db        *sql.DB
	packageID string
}

// ConnString builds a lib/pq keyword/value connection string from the
// PG* environment variables.
func ConnString(password string) string {
	if password == "" {
		password = os.Getenv("PGPASSWORD")
	}
	params := []struct{ key, env, def string }{
		{"host", "PGHOST", "127.0.0.1"},
		{"port", "PGPORT", "5432"},
		{"user", "PGUSER", "arcor2"},
		{"password", "", ""},
		{"dbname", "PGDATABASE", "arcor2"},
	}
	var b strings.Builder
	for _, p := range params {
		v := password
		if p.env != "" {
			if v = os.Getenv(p.env); v == "" {
				v = p.def
			}
		}
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "%s=%s ", p.key, v)
	}
	b.WriteString("sslmode=disable")
	return b.String()
}

// New connects to the database and creates the events table if missing.
func New(opts Options) (*Store, error) {
	db, err := sql.Open("postgres", ConnString(opts.Password))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	return &Store{db: db, packageID: opts.PackageID}, nil
}

// Append inserts one event. Empty data is stored as NULL.
func (s *Store) Append(ts time.Time, name string, data []byte, runID string) error {
	var payload any
	if len(data) > 0 {
		payload = string(data)
	}
	_, err := s.db.Exec(insertEvent, ts, name, payload, s.packageID, storage.Nullable(runID))
	return err
}

// Query returns the last limit events of the package, newest first.
func (s *Store) Query(limit int) ([]storage.EventRow, error) {
	rows, err := s.db.Query(selectLast, s.packageID, storage.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.EventRow
	for rows.Next() {
		var (
			e     storage.EventRow
			data  []byte
			runID sql.NullString
		)
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Event, &data, &e.PackageID, &runID); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			e.Data = data
		}
		if runID.Valid {
			e.RunID = &runID.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
