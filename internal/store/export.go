package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// ExportSubmissions returns every stored submission in submission order.
func (s *Store) ExportSubmissions(ctx context.Context) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, payload FROM submissions ORDER BY submitted_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var results []model.Submission
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var sub model.Submission
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
			return nil, fmt.Errorf("decode submission %s: %w", id, err)
		}
		results = append(results, sub)
	}
	return results, rows.Err()
}
