package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS requests (
    request_key   TEXT PRIMARY KEY,
    location_slug TEXT NOT NULL,
    location_key  TEXT NOT NULL,
    bundle_slug   TEXT NOT NULL,
    lat           REAL NOT NULL,
    lon           REAL NOT NULL,
    elevation_m   REAL NOT NULL DEFAULT 0,
    name          TEXT NOT NULL DEFAULT '',
    selected_ids  TEXT NOT NULL DEFAULT '[]',
    requested_by  TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL,
    last_seen     TEXT NOT NULL,
    fulfilled_at  TEXT
);
`

// SQLiteStore implements Store using a local SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the request database at dbPath, enables WAL mode
// and a busy timeout, and creates the schema if it does not exist. Parent
// directories are created as needed.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Limit to one connection. SQLite only supports a single writer; using
	// one connection avoids SQLITE_BUSY contention between pooled connections
	// that each need their own PRAGMA setup. WAL mode still benefits external
	// readers and provides crash-safe writes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}

	// Busy timeout avoids SQLITE_BUSY under concurrent access from external
	// processes (two reconciliations arriving close together).
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Upsert implements Store. The insert path and the merge path run in one
// transaction so concurrent writers cannot interleave between the existence
// check and the write.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) (Record, bool, error) {
	now := time.Now().UTC()
	payload, err := encodeSelection(rec.SelectedNoradIDs)
	if err != nil {
		return Record{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, fmt.Errorf("store: begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var existingPayload string
	err = tx.QueryRowContext(ctx,
		"SELECT selected_ids FROM requests WHERE request_key = ?", rec.RequestKey,
	).Scan(&existingPayload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created := rec.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO requests (
				request_key, location_slug, location_key, bundle_slug,
				lat, lon, elevation_m, name, selected_ids, requested_by,
				created_at, last_seen
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RequestKey, rec.LocationSlug, rec.LocationKey, rec.BundleSlug,
			rec.Lat, rec.Lon, rec.ElevationM, rec.Name, payload, rec.RequestedBy,
			formatTime(created), formatTime(now),
		)
		if err != nil {
			return Record{}, false, fmt.Errorf("store: insert request %q: %w", rec.RequestKey, err)
		}
		if err := tx.Commit(); err != nil {
			return Record{}, false, fmt.Errorf("store: commit insert: %w", err)
		}
		rec.CreatedAt = created
		rec.LastSeen = now
		rec.SelectedNoradIDs = decodedOrNil(payload)
		return rec, true, nil

	case err != nil:
		return Record{}, false, fmt.Errorf("store: lookup request %q: %w", rec.RequestKey, err)
	}

	if existingPayload != payload {
		return Record{}, false, fmt.Errorf("store: upsert %q: %w", rec.RequestKey, ErrSelectionMismatch)
	}

	// Identical record already stored: refresh last_seen and fill fields the
	// original submission left empty. Existing values always win.
	_, err = tx.ExecContext(ctx, `
		UPDATE requests
		SET last_seen = ?,
		    name = CASE WHEN name = '' THEN ? ELSE name END,
		    requested_by = CASE WHEN requested_by = '' THEN ? ELSE requested_by END
		WHERE request_key = ?`,
		formatTime(now), rec.Name, rec.RequestedBy, rec.RequestKey,
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("store: merge request %q: %w", rec.RequestKey, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("store: commit merge: %w", err)
	}

	stored, err := s.FindByKey(ctx, rec.RequestKey)
	if err != nil {
		return Record{}, false, err
	}
	return stored, false, nil
}

// FindByKey implements Store.
func (s *SQLiteStore) FindByKey(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE request_key = ?", key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("store: %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: find request %q: %w", key, err)
	}
	return rec, nil
}

// ListAll implements Store. The ORDER BY clause fixes the iteration order so
// downstream manifest builds stay diff-stable across runs.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY location_slug, bundle_slug, request_key")
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan request: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate requests: %w", err)
	}
	return records, nil
}

// MarkFulfilled implements Store. The stamp is write-once: a record fulfilled
// by an earlier build keeps its original time.
func (s *SQLiteStore) MarkFulfilled(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET fulfilled_at = ?
		 WHERE request_key = ? AND (fulfilled_at IS NULL OR fulfilled_at = '')`,
		formatTime(at.UTC()), key,
	)
	if err != nil {
		return fmt.Errorf("store: mark fulfilled %q: %w", key, err)
	}
	return nil
}

// Reset implements Store.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM requests"); err != nil {
		return fmt.Errorf("store: reset: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT request_key, location_slug, location_key, bundle_slug,
	lat, lon, elevation_m, name, selected_ids, requested_by,
	created_at, last_seen, fulfilled_at
	FROM requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var payload, createdAt, lastSeen string
	var fulfilledAt sql.NullString
	err := row.Scan(
		&rec.RequestKey, &rec.LocationSlug, &rec.LocationKey, &rec.BundleSlug,
		&rec.Lat, &rec.Lon, &rec.ElevationM, &rec.Name, &payload, &rec.RequestedBy,
		&createdAt, &lastSeen, &fulfilledAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.SelectedNoradIDs = decodedOrNil(payload)
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.LastSeen, err = parseTime(lastSeen); err != nil {
		return Record{}, fmt.Errorf("parse last_seen: %w", err)
	}
	if fulfilledAt.Valid && fulfilledAt.String != "" {
		if rec.FulfilledAt, err = parseTime(fulfilledAt.String); err != nil {
			return Record{}, fmt.Errorf("parse fulfilled_at: %w", err)
		}
	}
	return rec, nil
}

// encodeSelection produces the stored selection payload. JSON over the
// ascending IDs keeps the column comparable with string equality, which the
// mismatch check relies on.
func encodeSelection(ids []int) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("store: encode selection: %w", err)
	}
	return string(b), nil
}

func decodedOrNil(payload string) []int {
	if payload == "" || payload == "[]" {
		return nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		return nil
	}
	return ids
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
