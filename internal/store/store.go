package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shaunagostinho/fieldtrack/internal/track"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("store: session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	notes            TEXT NOT NULL DEFAULT '',
	started_at_ms    BIGINT NOT NULL,
	stopped_at_ms    BIGINT NOT NULL DEFAULT 0,
	fixes_seen       INTEGER NOT NULL DEFAULT 0,
	accepted         INTEGER NOT NULL DEFAULT 0,
	rejected         INTEGER NOT NULL DEFAULT 0,
	invalid          INTEGER NOT NULL DEFAULT 0,
	distance_m       DOUBLE NOT NULL DEFAULT 0,
	accuracy_mean    DOUBLE NOT NULL DEFAULT 0,
	accuracy_stddev  DOUBLE NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS track_points (
	session_id       TEXT NOT NULL,
	seq              INTEGER NOT NULL,
	latitude         DOUBLE NOT NULL,
	longitude        DOUBLE NOT NULL,
	accuracy         DOUBLE,
	timestamp_s      INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// Store persists finished sessions to a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", filepath.Dir(path), err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	log.Printf("[store] opened %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a session and its path, replacing any previous copy.
func (s *Store) Save(ctx context.Context, sum track.Summary, path track.Path) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			id, name, notes, started_at_ms, stopped_at_ms,
			fixes_seen, accepted, rejected, invalid,
			distance_m, accuracy_mean, accuracy_stddev
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Name, sum.Notes, toMillis(sum.StartedAt), stoppedMillis(sum.StoppedAt),
		sum.FixesSeen, sum.Accepted, sum.Rejected, sum.Invalid,
		sum.DistanceMeters, sum.AccuracyMean, sum.AccuracyStdDev,
	)
	if err != nil {
		return fmt.Errorf("store: insert session %s: %w", sum.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM track_points WHERE session_id = ?`, sum.ID); err != nil {
		return fmt.Errorf("store: clear points %s: %w", sum.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_points (session_id, seq, latitude, longitude, accuracy, timestamp_s)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare points: %w", err)
	}
	defer stmt.Close()

	for i, p := range path {
		var acc sql.NullFloat64
		if p.Accuracy != nil {
			acc = sql.NullFloat64{Float64: *p.Accuracy, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sum.ID, i, p.Latitude, p.Longitude, acc, p.TimestampSeconds); err != nil {
			return fmt.Errorf("store: insert point %d of %s: %w", i, sum.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit %s: %w", sum.ID, err)
	}
	log.Printf("[store] saved session %s (%d points)", sum.ID, len(path))
	return nil
}

// List returns all stored sessions, newest first.
func (s *Store) List(ctx context.Context) ([]track.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, notes, started_at_ms, stopped_at_ms,
		       fixes_seen, accepted, rejected, invalid,
		       distance_m, accuracy_mean, accuracy_stddev
		FROM sessions ORDER BY started_at_ms DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := []track.Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get returns one session and its path.
func (s *Store) Get(ctx context.Context, id string) (track.Summary, track.Path, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, notes, started_at_ms, stopped_at_ms,
		       fixes_seen, accepted, rejected, invalid,
		       distance_m, accuracy_mean, accuracy_stddev
		FROM sessions WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return track.Summary{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return track.Summary{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT latitude, longitude, accuracy, timestamp_s
		FROM track_points WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return track.Summary{}, nil, fmt.Errorf("store: points %s: %w", id, err)
	}
	defer rows.Close()

	path := track.Path{}
	for rows.Next() {
		var p track.TrackPoint
		var acc sql.NullFloat64
		if err := rows.Scan(&p.Latitude, &p.Longitude, &acc, &p.TimestampSeconds); err != nil {
			return track.Summary{}, nil, fmt.Errorf("store: scan point: %w", err)
		}
		if acc.Valid {
			v := acc.Float64
			p.Accuracy = &v
		}
		path = append(path, p)
	}
	if err := rows.Err(); err != nil {
		return track.Summary{}, nil, err
	}
	return sum, path, nil
}

// Delete removes a session and its points.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM track_points WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete points %s: %w", id, err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (track.Summary, error) {
	var sum track.Summary
	var started, stopped int64
	err := row.Scan(
		&sum.ID, &sum.Name, &sum.Notes, &started, &stopped,
		&sum.FixesSeen, &sum.Accepted, &sum.Rejected, &sum.Invalid,
		&sum.DistanceMeters, &sum.AccuracyMean, &sum.AccuracyStdDev,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sum, err
		}
		return sum, fmt.Errorf("store: scan session: %w", err)
	}
	sum.StartedAt = fromMillis(started)
	if stopped != 0 {
		at := fromMillis(stopped)
		sum.StoppedAt = &at
	}
	return sum, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func stoppedMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return toMillis(*t)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
