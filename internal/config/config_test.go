package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/scoring"
)

func viperFrom(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(s, Defaults()) {
		t.Errorf("empty config should yield defaults, got %+v", s)
	}
}

func TestLoadOverlay(t *testing.T) {
	v := viperFrom(t, `
session:
  max_skips: -1
  idle_timeout: 0s
scoring:
  keywords: [remote, server]
  denominator: all
integrity:
  rapid_window: 2s
  ai_escalation:
    - at: 2
      severity: high
`)
	s, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Session.MaxSkips != -1 || s.Session.MinTextLength != 20 || s.Session.IDPrefix != "DXT" || s.Session.IdleTimeout != 0 {
		t.Errorf("session = %+v", s.Session)
	}
	if !reflect.DeepEqual(s.Rules.Keywords, []string{"remote", "server"}) {
		t.Errorf("keywords should replace defaults, got %v", s.Rules.Keywords)
	}
	if s.Rules.Denominator != scoring.DenominatorAll || s.Rules.TextWeight != 0.6 {
		t.Errorf("rules = %+v", s.Rules)
	}
	if len(s.Rules.LengthTiers) != 3 {
		t.Errorf("untouched list changed: %v", s.Rules.LengthTiers)
	}
	if s.Integrity.RapidWindow != 2*time.Second || s.Integrity.BurstSize != 3 {
		t.Errorf("integrity = %+v", s.Integrity)
	}
	if esc := s.Integrity.AIEscalation; len(esc) != 1 || esc[0].At != 2 || esc[0].Severity != model.SeverityHigh {
		t.Errorf("escalation = %+v", s.Integrity.AIEscalation)
	}
}

func TestLoadGrades(t *testing.T) {
	s, err := Load(viperFrom(t, "grade_ladder: four_tier\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(s.Grades, scoring.FourTierGrades()) {
		t.Errorf("grades = %v", s.Grades)
	}

	s, err = Load(viperFrom(t, `
grades:
  - min_score: 0
    grade: NOT_QUALIFIED
  - min_score: 50
    grade: JUNIOR
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Grades) != 2 || s.Grades.Grade(55) != model.GradeJunior {
		t.Errorf("grades = %v", s.Grades)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown ladder", "grade_ladder: seven\n"},
		{"grades not ascending", "grades:\n  - {min_score: 0, grade: JUNIOR}\n  - {min_score: 0, grade: SENIOR}\n"},
		{"bad denominator", "scoring:\n  denominator: some\n"},
		{"bad pattern", "integrity:\n  ai_patterns: ['(']\n"},
		{"empty prefix", "session:\n  id_prefix: ''\n"},
		{"negative length", "session:\n  min_text_length: -1\n"},
		{"negative idle timeout", "session:\n  idle_timeout: -5m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(viperFrom(t, tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
