package model

import "time"

// AssessmentExport is the top-level JSON structure for submission export.
type AssessmentExport struct {
	ExportedAt   time.Time    `json:"exported_at"`
	Bank         BankInfo     `json:"bank"`
	NumQuestions int          `json:"num_questions"`
	Results      []Submission `json:"results"`
}

// BankInfo identifies the question bank a database was populated against.
type BankInfo struct {
	Hash         string `json:"hash"`
	Source       string `json:"source"`
	NumQuestions int    `json:"num_questions"`
}
