// Package config assembles the assessment thresholds from defaults and the
// optional config file.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pavelanni/assessor/internal/integrity"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/session"
)

// Settings groups every tunable table used by the assessment core.
type Settings struct {
	Session   session.Config
	Rules     scoring.Rules
	Grades    scoring.GradeTable
	Integrity integrity.Config
}

// Defaults returns the stock settings.
func Defaults() Settings {
	return Settings{
		Session:   session.DefaultConfig(),
		Rules:     scoring.DefaultRules(),
		Grades:    scoring.DefaultGrades(),
		Integrity: integrity.DefaultConfig(),
	}
}

// replaceLists makes a list in the config file replace the default list
// instead of overwriting it element by element.
func replaceLists(c *mapstructure.DecoderConfig) {
	c.ZeroFields = true
}

// Load overlays the session, scoring, grades and integrity sections of v onto
// the defaults. Keys absent from v keep their default values. grade_ladder
// selects a built-in grade table and is applied before grades.
func Load(v *viper.Viper) (Settings, error) {
	s := Defaults()

	switch ladder := v.GetString("grade_ladder"); ladder {
	case "", "default":
	case "four_tier":
		s.Grades = scoring.FourTierGrades()
	default:
		return s, fmt.Errorf("unknown grade_ladder %q", ladder)
	}

	sections := []struct {
		key    string
		target any
	}{
		{"session", &s.Session},
		{"scoring", &s.Rules},
		{"integrity", &s.Integrity},
	}
	for _, sec := range sections {
		if !v.IsSet(sec.key) {
			continue
		}
		if err := v.UnmarshalKey(sec.key, sec.target, replaceLists); err != nil {
			return s, fmt.Errorf("decode %s: %w", sec.key, err)
		}
	}
	if v.IsSet("grades") {
		var g scoring.GradeTable
		if err := v.UnmarshalKey("grades", &g); err != nil {
			return s, fmt.Errorf("decode grades: %w", err)
		}
		s.Grades = g
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks every section.
func (s Settings) Validate() error {
	if s.Session.MinTextLength < 0 || s.Session.MinCodeLength < 0 {
		return fmt.Errorf("session: minimum lengths must not be negative")
	}
	if s.Session.IdleTimeout < 0 {
		return fmt.Errorf("session: idle_timeout must not be negative")
	}
	if s.Session.IDPrefix == "" {
		return fmt.Errorf("session: id_prefix must not be empty")
	}
	if err := s.Rules.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := s.Grades.Validate(); err != nil {
		return fmt.Errorf("grades: %w", err)
	}
	if err := s.Integrity.Validate(); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	return nil
}
