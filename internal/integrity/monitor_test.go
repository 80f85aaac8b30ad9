package integrity

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (r *recordingNotifier) Notify(_ context.Context, a model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) Deliver(ctx context.Context, a model.Alert, _ model.Document) error {
	return r.Notify(ctx, a)
}

func (r *recordingNotifier) count(kind model.AlertKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor(t *testing.T) (*Monitor, *recordingNotifier, *fakeClock) {
	t.Helper()
	n := &recordingNotifier{}
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m, err := New(DefaultConfig(), n, "DXT-test", WithClock(clk.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetCandidate("alice")
	return m, n, clk
}

func TestInspectTextFlagsAIPhrase(t *testing.T) {
	m, n, _ := newTestMonitor(t)
	ctx := context.Background()

	if !m.InspectText(ctx, "As an AI language model, I cannot provide that", 2) {
		t.Fatal("expected a flag")
	}
	s := m.Summary()
	if s.AIFlags != 1 {
		t.Errorf("AIFlags = %d, want 1", s.AIFlags)
	}
	recs := m.Records()
	if len(recs) != 1 || recs[0].Kind != model.ActivityAIContent {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Payload["question"] != 2 {
		t.Errorf("payload question = %v", recs[0].Payload["question"])
	}
	if got := n.count(model.AlertAIContent); got != 1 {
		t.Errorf("alerts = %d, want 1", got)
	}
	if n.alerts[0].Severity != model.SeverityLow || n.alerts[0].Candidate != "alice" {
		t.Errorf("alert = %+v", n.alerts[0])
	}

	// Re-saving the same text must not flag again.
	if m.InspectText(ctx, "As an AI language model, I cannot provide that!", 2) {
		t.Error("same pattern on the same question flagged twice")
	}
	if m.Summary().AIFlags != 1 {
		t.Errorf("AIFlags = %d after resave", m.Summary().AIFlags)
	}
}

func TestInspectTextCleanAnswer(t *testing.T) {
	m, n, _ := newTestMonitor(t)
	if m.InspectText(context.Background(), "I would validate every remote call on the server.", 1) {
		t.Error("clean text flagged")
	}
	if len(m.Records()) != 0 || len(n.alerts) != 0 {
		t.Error("clean text produced records or alerts")
	}
}

func TestInspectTextEscalatesToHigh(t *testing.T) {
	m, n, _ := newTestMonitor(t)
	ctx := context.Background()
	texts := []string{
		"I hope this helps with the loop.",
		"According to my knowledge the event fires twice.",
		"My knowledge cutoff prevents a full answer.",
	}
	for i, txt := range texts {
		if !m.InspectText(ctx, txt, i+1) {
			t.Fatalf("text %d not flagged", i)
		}
	}
	if m.Summary().AIFlags != 3 {
		t.Fatalf("AIFlags = %d, want 3", m.Summary().AIFlags)
	}
	var sev []model.Severity
	for _, a := range n.alerts {
		sev = append(sev, a.Severity)
	}
	if len(sev) != 2 || sev[0] != model.SeverityLow || sev[1] != model.SeverityHigh {
		t.Errorf("severities = %v, want [low high]", sev)
	}
}

func TestFocusRapidBurstEscalatesOnce(t *testing.T) {
	m, n, clk := newTestMonitor(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.InspectFocusChange(ctx, true)
		m.InspectFocusChange(ctx, false)
		clk.advance(time.Second)
	}
	if got := m.Summary().TabSwitches; got != 5 {
		t.Errorf("TabSwitches = %d, want 5", got)
	}
	if got := n.count(model.AlertExcessiveTabSwitches); got != 1 {
		t.Errorf("EXCESSIVE_TAB_SWITCHING alerts = %d, want 1", got)
	}
}

func TestFocusSlowSwitchesHitCumulativeLimit(t *testing.T) {
	m, n, clk := newTestMonitor(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		m.InspectFocusChange(ctx, true)
		clk.advance(time.Minute)
	}
	if got := m.Summary().TabSwitches; got != 6 {
		t.Errorf("TabSwitches = %d, want 6", got)
	}
	if got := n.count(model.AlertExcessiveTabSwitches); got != 1 {
		t.Errorf("alerts = %d, want 1", got)
	}
}

func TestFocusVisibleIsIgnored(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	if m.InspectFocusChange(context.Background(), false) {
		t.Error("visible event escalated")
	}
	if m.Summary().TabSwitches != 0 || len(m.Records()) != 0 {
		t.Error("visible event counted")
	}
}

func uniform(ms float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = ms
	}
	return out
}

func TestKeystrokeStreak(t *testing.T) {
	m, n, _ := newTestMonitor(t)
	ctx := context.Background()
	robotic := uniform(120, 10)
	natural := []float64{80, 240, 95, 310, 150, 60, 420, 130, 200, 90}

	if m.InspectKeystrokeTiming(ctx, uniform(120, 5)) {
		t.Error("short window evaluated")
	}
	if m.InspectKeystrokeTiming(ctx, robotic) || m.InspectKeystrokeTiming(ctx, robotic) {
		t.Error("alert before streak complete")
	}
	// A natural window breaks the streak.
	if m.InspectKeystrokeTiming(ctx, natural) {
		t.Error("natural window alerted")
	}
	for i := 0; i < 2; i++ {
		if m.InspectKeystrokeTiming(ctx, robotic) {
			t.Fatalf("alert on window %d after reset", i+1)
		}
	}
	if !m.InspectKeystrokeTiming(ctx, robotic) {
		t.Fatal("expected alert on third uniform window")
	}
	if m.InspectKeystrokeTiming(ctx, robotic) {
		t.Error("alert repeated within the same streak")
	}
	if got := n.count(model.AlertUnnaturalTyping); got != 1 {
		t.Errorf("alerts = %d, want 1", got)
	}
}

func TestKeystrokeFastMeanCountsAsUniform(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	fast := []float64{10, 40, 5, 45, 20, 35, 8, 42, 15, 30}
	mean, variance := meanVariance(fast)
	if variance < DefaultConfig().VarianceThreshold {
		t.Fatalf("fixture variance %.1f too low for this test", variance)
	}
	if mean >= DefaultConfig().FastMeanMs {
		t.Fatalf("fixture mean %.1f too slow for this test", mean)
	}
	ctx := context.Background()
	m.InspectKeystrokeTiming(ctx, fast)
	m.InspectKeystrokeTiming(ctx, fast)
	if !m.InspectKeystrokeTiming(ctx, fast) {
		t.Error("fast typing should complete the streak")
	}
}

func TestObserveKeystrokeRollingWindow(t *testing.T) {
	m, n, _ := newTestMonitor(t)
	ctx := context.Background()
	// 12 identical intervals: windows complete at 10, 11, 12.
	fired := 0
	for i := 0; i < 12; i++ {
		if m.ObserveKeystroke(ctx, 100) {
			fired++
		}
	}
	if fired != 1 || n.count(model.AlertUnnaturalTyping) != 1 {
		t.Errorf("fired = %d, alerts = %d", fired, n.count(model.AlertUnnaturalTyping))
	}
}

func TestStateRestore(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	ctx := context.Background()
	m.InspectText(ctx, "I hope this helps", 1)
	m.InspectFocusChange(ctx, true)
	m.RecordActivity(model.ActivityPaste, map[string]any{"chars": 40})

	st := m.State()
	other, _, _ := newTestMonitor(t)
	other.Restore(st)
	if got, want := other.Summary(), m.Summary(); got != want {
		t.Errorf("restored summary = %+v, want %+v", got, want)
	}
	if got := other.Summary().SuspiciousActivities; got != 3 {
		t.Errorf("SuspiciousActivities = %d, want 3", got)
	}
}

func TestRestoreKeepsFlaggedQuestions(t *testing.T) {
	ctx := context.Background()
	text := "As an AI language model, I hope this helps"

	tests := []struct {
		name  string
		state func(model.IntegrityState) model.IntegrityState
	}{
		{"flag table", func(st model.IntegrityState) model.IntegrityState { return st }},
		{"rebuilt from records", func(st model.IntegrityState) model.IntegrityState {
			st.Flagged = nil
			return st
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestMonitor(t)
			if !m.InspectText(ctx, text, 1) {
				t.Fatal("expected first flag")
			}
			data, err := json.Marshal(tt.state(m.State()))
			if err != nil {
				t.Fatal(err)
			}
			var st model.IntegrityState
			if err := json.Unmarshal(data, &st); err != nil {
				t.Fatal(err)
			}

			other, _, _ := newTestMonitor(t)
			other.Restore(st)
			if other.InspectText(ctx, text+" ", 1) {
				t.Error("re-saved text flagged again after restore")
			}
			if got := other.Summary().AIFlags; got != 1 {
				t.Errorf("AIFlags = %d, want 1", got)
			}
			if !other.InspectText(ctx, text, 2) {
				t.Error("other questions should still flag")
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad pattern", func(c *Config) { c.AIPatterns = append(c.AIPatterns, "(") }},
		{"tiny window", func(c *Config) { c.KeystrokeWindow = 1 }},
		{"zero burst", func(c *Config) { c.BurstSize = 0 }},
		{"zero rapid window", func(c *Config) { c.RapidWindow = 0 }},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
