package session

import (
	"errors"
	"strings"
)

var (
	ErrNoSkipCredits     = errors.New("no skip credits remaining")
	ErrSessionClosed     = errors.New("session is closed")
	ErrWrongPhase        = errors.New("operation not allowed in the current phase")
	ErrInvalidQuestion   = errors.New("question index out of range")
	ErrInvalidAnswerKind = errors.New("unknown answer kind")
	ErrNothingSkipped    = errors.New("no skipped questions pending")
	ErrNotFound          = errors.New("session not found")
)

// FieldError describes one failed check. Tag and Param follow validator
// conventions so callers can localize the message.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// ValidationError is returned when candidate input is incomplete. The session
// state is unchanged when it is returned.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
