package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessment_state (
		session_id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		candidate TEXT NOT NULL DEFAULT '',
		snapshot TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		session_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		full_name TEXT NOT NULL,
		final_score INTEGER NOT NULL,
		grade TEXT NOT NULL,
		filename TEXT NOT NULL,
		report TEXT NOT NULL,
		payload TEXT NOT NULL,
		started_at DATETIME,
		submitted_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES submissions(session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_activities_session ON activities(session_id);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'reviewer',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS assessment_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveState upserts the snapshot of one session.
func (s *Store) SaveState(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	var candidate string
	if snap.PersonalInfo != nil {
		candidate = snap.PersonalInfo.Username
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessment_state (session_id, phase, candidate, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET phase = ?, candidate = ?, snapshot = ?, updated_at = ?`,
		snap.SessionID, snap.Phase, candidate, string(data), now, now,
		snap.Phase, candidate, string(data), now,
	)
	return err
}

// LoadState returns the raw snapshot JSON for a session. Decoding is left to
// the caller so that corrupt rows can be treated as absent state.
func (s *Store) LoadState(ctx context.Context, id string) ([]byte, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM assessment_state WHERE session_id = ?`, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

// ListSessions returns one summary row per known session, most recent first.
func (s *Store) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.session_id, a.candidate, a.phase, a.updated_at, sub.final_score, sub.grade, sub.submitted_at
		 FROM assessment_state a
		 LEFT JOIN submissions sub ON sub.session_id = a.session_id
		 ORDER BY a.updated_at DESC, a.session_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SessionSummary
	for rows.Next() {
		var (
			sum         model.SessionSummary
			score       sql.NullInt64
			grade       sql.NullString
			submittedAt sql.NullTime
		)
		if err := rows.Scan(&sum.SessionID, &sum.Candidate, &sum.Phase, &sum.UpdatedAt, &score, &grade, &submittedAt); err != nil {
			return nil, err
		}
		if score.Valid {
			v := int(score.Int64)
			sum.FinalScore = &v
		}
		if grade.Valid {
			sum.Grade = model.Grade(grade.String)
		}
		if submittedAt.Valid {
			t := submittedAt.Time
			sum.SubmittedAt = &t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assessment_state`).Scan(&count)
	return count, err
}
