// Package sqlite is a single-file event journal for cells without a
// database server.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/robofit/arcor2-sub003/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	event      TEXT NOT NULL,
	data       TEXT,
	package_id TEXT NOT NULL,
	run_id     TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_package_ts ON events(package_id, ts DESC);
`

// Store is an event journal in a SQLite database.
type Store struct {
	db        *sql.DB
	packageID string
}

// Open creates or opens the database at path.
func Open(path, packageID string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, packageID: packageID}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Append inserts an event.
func (s *Store) Append(ts time.Time, name string, data []byte, runID string) error {
	var dataArg any
	if len(data) > 0 {
		dataArg = string(data)
	}
	_, err := s.db.Exec(
		`INSERT INTO events (ts, event, data, package_id, run_id) VALUES (?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano), name, dataArg, s.packageID, storage.Nullable(runID),
	)
	return err
}

// Query returns the last N events of the package, newest first.
func (s *Store) Query(limit int) ([]storage.EventRow, error) {
	rows, err := s.db.Query(`
		SELECT event_id, ts, event, data, package_id, run_id
		FROM events
		WHERE package_id = ?
		ORDER BY ts DESC, event_id DESC
		LIMIT ?`, s.packageID, storage.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.EventRow
	for rows.Next() {
		var e storage.EventRow
		var ts string
		var data, runID sql.NullString
		if err := rows.Scan(&e.EventID, &ts, &e.Event, &data, &e.PackageID, &runID); err != nil {
			return nil, err
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		if data.Valid {
			e.Data = []byte(data.String)
		}
		if runID.Valid {
			e.RunID = &runID.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
