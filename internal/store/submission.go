package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/assessor/internal/model"
)

// ErrAlreadySubmitted is returned when a session already has a submission.
var ErrAlreadySubmitted = errors.New("session already submitted")

// SaveSubmission stores a finalized submission and its activity log in one
// transaction.
func (s *Store) SaveSubmission(ctx context.Context, sub model.Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE session_id = ?`, sub.SessionID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrAlreadySubmitted
	}

	var startedAt any
	if !sub.StartedAt.IsZero() {
		startedAt = sub.StartedAt
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (session_id, username, full_name, final_score, grade, filename, report, payload, started_at, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.SessionID, sub.Candidate.Username, sub.Candidate.FullName, sub.Score.FinalScore, sub.Score.Grade,
		sub.Document.Filename, sub.Document.Body, string(payload), startedAt, sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	for _, rec := range sub.Activities {
		data, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshal activity: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO activities (session_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
			sub.SessionID, rec.Kind, string(data), rec.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("stored submission", "session_id", sub.SessionID, "activities", len(sub.Activities))
	return nil
}

// GetSubmission returns the submission for a session, or nil if there is none.
func (s *Store) GetSubmission(ctx context.Context, sessionID string) (*model.Submission, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM submissions WHERE session_id = ?`, sessionID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub model.Submission
	if err := json.Unmarshal([]byte(payload), &sub); err != nil {
		return nil, fmt.Errorf("decode submission %s: %w", sessionID, err)
	}
	return &sub, nil
}

// GetReport returns the stored report document for a session, or nil.
func (s *Store) GetReport(ctx context.Context, sessionID string) (*model.Document, error) {
	var doc model.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT filename, report FROM submissions WHERE session_id = ?`, sessionID,
	).Scan(&doc.Filename, &doc.Body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListActivities returns the activity log stored with a submission.
func (s *Store) ListActivities(ctx context.Context, sessionID string) ([]model.SuspicionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, payload, created_at FROM activities WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SuspicionRecord
	for rows.Next() {
		var (
			rec  model.SuspicionRecord
			data string
		)
		if err := rows.Scan(&rec.Kind, &data, &rec.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode activity payload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
