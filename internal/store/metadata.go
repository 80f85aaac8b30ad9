package store

import (
	"database/sql"
	"strconv"

	"github.com/pavelanni/assessor/internal/model"
)

// SetMetadata upserts a key-value pair in the assessment_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO assessment_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM assessment_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetBankInfo records which question bank the stored sessions were taken against.
func (s *Store) SetBankInfo(info model.BankInfo) error {
	pairs := []struct{ k, v string }{
		{"bank_hash", info.Hash},
		{"bank_source", info.Source},
		{"num_questions", strconv.Itoa(info.NumQuestions)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetBankInfo reads the recorded bank information. A zero value means none
// was recorded.
func (s *Store) GetBankInfo() (model.BankInfo, error) {
	var info model.BankInfo
	var err error

	if info.Hash, err = s.GetMetadata("bank_hash"); err != nil {
		return info, err
	}
	if info.Source, err = s.GetMetadata("bank_source"); err != nil {
		return info, err
	}
	nq, err := s.GetMetadata("num_questions")
	if err != nil {
		return info, err
	}
	if nq != "" {
		info.NumQuestions, err = strconv.Atoi(nq)
		if err != nil {
			return info, err
		}
	}
	return info, nil
}
