// Package store persists labelled results in a SQLite database.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
)

// ErrRunNotFound is returned when no run is stored for a source.
var ErrRunNotFound = errors.New("store: run not found")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRunID returns a new ULID string. IDs from one process sort by creation.
func NewRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// SQLite stores runs and their labels.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and initializes its schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("OpenSQLite: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite: init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS emotion_runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	stats_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emotion_runs_source ON emotion_runs(source);

CREATE TABLE IF NOT EXISTS emotion_labels (
	run_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	message_id INTEGER NOT NULL,
	date TEXT,
	sender TEXT,
	text TEXT NOT NULL,
	emotion TEXT NOT NULL,
	PRIMARY KEY(run_id, idx),
	FOREIGN KEY(run_id) REFERENCES emotion_runs(id) ON DELETE CASCADE
);
`

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveRun stores rs as the only run for source. Earlier runs for the same
// source and their labels are replaced in the same transaction.
func (s *SQLite) SaveRun(ctx context.Context, source string, rs annotate.ResultSet) (err error) {
	stats := rs.Stats()
	if stats.RunID == "" {
		stats.RunID = NewRunID()
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("SaveRun: marshal stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveRun: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM emotion_runs WHERE source = ?`, source); err != nil {
		return fmt.Errorf("SaveRun: delete previous runs: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO emotion_runs (id, source, started_at, finished_at, stats_json) VALUES (?, ?, ?, ?, ?)`,
		stats.RunID, source, formatTime(stats.StartedAt), formatTime(stats.FinishedAt), string(statsJSON),
	); err != nil {
		return fmt.Errorf("SaveRun: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO emotion_labels (run_id, idx, message_id, date, sender, text, emotion) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("SaveRun: prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < rs.Len(); i++ {
		r := rs.At(i)
		if _, err = stmt.ExecContext(ctx, stats.RunID, r.Index, r.MessageID, r.Date, r.From, r.Text, string(r.Emotion)); err != nil {
			return fmt.Errorf("SaveRun: insert label %d: %w", r.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("SaveRun: commit: %w", err)
	}
	return nil
}

// LatestRun returns the stats of the newest run stored for source.
func (s *SQLite) LatestRun(ctx context.Context, source string) (annotate.RunStats, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT stats_json FROM emotion_runs WHERE source = ? ORDER BY id DESC LIMIT 1`, source,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return annotate.RunStats{}, fmt.Errorf("LatestRun: %s: %w", source, ErrRunNotFound)
	}
	if err != nil {
		return annotate.RunStats{}, fmt.Errorf("LatestRun: %w", err)
	}

	var stats annotate.RunStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return annotate.RunStats{}, fmt.Errorf("LatestRun: decode stats: %w", err)
	}
	return stats, nil
}

// Labels returns the results of runID in input order.
func (s *SQLite) Labels(ctx context.Context, runID string) ([]annotate.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, message_id, COALESCE(date, ''), COALESCE(sender, ''), text, emotion
		 FROM emotion_labels WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("Labels: %w", err)
	}
	defer rows.Close()

	var out []annotate.Result
	for rows.Next() {
		var r annotate.Result
		var emotion string
		if err := rows.Scan(&r.Index, &r.MessageID, &r.Date, &r.From, &r.Text, &emotion); err != nil {
			return nil, fmt.Errorf("Labels: scan: %w", err)
		}
		r.Emotion = annotate.Label(emotion)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Labels: %w", err)
	}
	return out, nil
}

// LatestLabels returns the results of the newest run stored for source.
func (s *SQLite) LatestLabels(ctx context.Context, source string) ([]annotate.Result, error) {
	stats, err := s.LatestRun(ctx, source)
	if err != nil {
		return nil, err
	}
	return s.Labels(ctx, stats.RunID)
}

// Sources lists the sources that have a stored run.
func (s *SQLite) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM emotion_runs ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("Sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("Sources: scan: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Sources: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
