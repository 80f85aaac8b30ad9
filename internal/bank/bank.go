// Package bank holds the ordered, immutable question bank of an assessment.
package bank

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/assessor/internal/model"
)

//go:embed questions/default.yaml
var defaultFS embed.FS

// Bank is an ordered list of questions indexed from 1.
type Bank struct {
	questions []model.Question
	hash      string
}

// Default returns the embedded question bank.
func Default() (*Bank, error) {
	data, err := defaultFS.ReadFile("questions/default.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded bank: %w", err)
	}
	return Parse(data, "default.yaml")
}

// Load reads a question bank from a JSON or YAML file.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes a bank, choosing the format from the file extension.
func Parse(data []byte, name string) (*Bank, error) {
	var (
		questions []model.Question
		err       error
	)
	if strings.ToLower(filepath.Ext(name)) == ".json" {
		questions, err = parseJSON(data)
	} else {
		questions, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}
	return New(questions, data)
}

// New validates the questions and assigns indices 1..N in order.
func New(questions []model.Question, raw []byte) (*Bank, error) {
	if len(questions) == 0 {
		return nil, errors.New("question bank is empty")
	}
	qs := make([]model.Question, len(questions))
	for i, q := range questions {
		q.Index = i + 1
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("question %d: text is empty", q.Index)
		}
		if q.Points <= 0 {
			return nil, fmt.Errorf("question %d: points must be positive, got %d", q.Index, q.Points)
		}
		if !q.RequiresText && !q.RequiresCode {
			return nil, fmt.Errorf("question %d: requires neither text nor code", q.Index)
		}
		qs[i] = q
	}
	if raw == nil {
		raw, _ = json.Marshal(qs)
	}
	sum := sha256.Sum256(raw)
	return &Bank{questions: qs, hash: hex.EncodeToString(sum[:])}, nil
}

func parseJSON(data []byte) ([]model.Question, error) {
	var qs []model.Question
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&qs); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("parse json: multiple documents are not supported")
		}
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return qs, nil
}

func parseYAML(data []byte) ([]model.Question, error) {
	var qs []model.Question
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&qs); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return qs, nil
}

// Len returns the number of questions N.
func (b *Bank) Len() int { return len(b.questions) }

// Hash identifies the bank contents.
func (b *Bank) Hash() string { return b.hash }

// Get returns the question with the given 1-based index.
func (b *Bank) Get(index int) (model.Question, bool) {
	if index < 1 || index > len(b.questions) {
		return model.Question{}, false
	}
	return b.questions[index-1], true
}

// Questions returns a copy of all questions in order.
func (b *Bank) Questions() []model.Question {
	out := make([]model.Question, len(b.questions))
	copy(out, b.questions)
	return out
}

// TotalPoints sums the points of every question.
func (b *Bank) TotalPoints() int {
	total := 0
	for _, q := range b.questions {
		total += q.Points
	}
	return total
}
