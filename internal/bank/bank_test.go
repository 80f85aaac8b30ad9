package bank

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultBank(t *testing.T) {
	b, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if b.Len() != 18 {
		t.Fatalf("expected 18 questions, got %d", b.Len())
	}
	for i, q := range b.Questions() {
		if q.Index != i+1 {
			t.Errorf("question %d has index %d", i+1, q.Index)
		}
	}
	first, ok := b.Get(1)
	if !ok || !first.RequiresText || !first.RequiresCode || first.Points != 5 {
		t.Errorf("unexpected first question: %+v", first)
	}
	if _, ok := b.Get(0); ok {
		t.Error("index 0 should not exist")
	}
	if _, ok := b.Get(19); ok {
		t.Error("index 19 should not exist")
	}
	if b.Hash() == "" {
		t.Error("expected a non-empty hash")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    string
		wantLen int
		wantErr bool
	}{
		{"json", "bank.json", `[{"text":"Q1","requires_text":true,"points":3}]`, 1, false},
		{"yaml", "bank.yaml", "- text: Q1\n  requires_code: true\n  points: 2\n- text: Q2\n  requires_text: true\n  points: 4\n", 2, false},
		{"unknown json field", "bank.json", `[{"text":"Q1","requires_text":true,"points":3,"extra":1}]`, 0, true},
		{"unknown yaml field", "bank.yml", "- text: Q1\n  requires_text: true\n  points: 2\n  weight: 3\n", 0, true},
		{"empty", "bank.json", `[]`, 0, true},
		{"zero points", "bank.json", `[{"text":"Q1","requires_text":true,"points":0}]`, 0, true},
		{"no answer channel", "bank.json", `[{"text":"Q1","points":1}]`, 0, true},
		{"blank text", "bank.json", `[{"text":"  ","requires_text":true,"points":1}]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Parse([]byte(tt.data), tt.file)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if b.Len() != tt.wantLen {
				t.Errorf("expected %d questions, got %d", tt.wantLen, b.Len())
			}
		})
	}
}

func TestLoadAndTotalPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	data := "- text: A\n  requires_text: true\n  points: 3\n- text: B\n  requires_code: true\n  points: 7\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := b.TotalPoints(); got != 10 {
		t.Errorf("TotalPoints() = %d, want 10", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
