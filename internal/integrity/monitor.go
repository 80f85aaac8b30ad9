// Package integrity watches for heuristic signs of non-genuine candidate
// behavior. It only observes and reports; it never drives navigation.
package integrity

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/notify"
)

// Monitor accumulates suspicion records for one session.
// It is not safe for concurrent use; the owning session serializes calls.
type Monitor struct {
	cfg       Config
	patterns  []*regexp.Regexp
	notifier  notify.Notifier
	sessionID string
	candidate string
	now       func() time.Time

	records     []model.SuspicionRecord
	aiFlags     int
	tabSwitches int

	// question index -> pattern index already flagged
	flagged map[int]map[int]bool

	lastHidden     time.Time
	burst          int
	burstEscalated bool

	keystrokes   []float64
	typingStreak int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor reporting to n (which may be nil).
func New(cfg Config, n notify.Notifier, sessionID string, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	patterns, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:       cfg,
		patterns:  patterns,
		notifier:  n,
		sessionID: sessionID,
		now:       time.Now,
		flagged:   make(map[int]map[int]bool),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// SetCandidate sets the identity included in alerts.
func (m *Monitor) SetCandidate(c string) { m.candidate = c }

// InspectText checks an answer against the AI phrase table. It returns true
// when the text raised a new flag. A pattern that already flagged a question
// does not flag it again, since the text is re-saved on every edit.
func (m *Monitor) InspectText(ctx context.Context, text string, question int) bool {
	var hit = -1
	var matched []string
	for i, re := range m.patterns {
		if !re.MatchString(text) {
			continue
		}
		matched = append(matched, m.cfg.AIPatterns[i])
		seen := m.flagged[question]
		if seen == nil {
			seen = make(map[int]bool)
			m.flagged[question] = seen
		}
		if !seen[i] && hit < 0 {
			hit = i
		}
		seen[i] = true
	}
	if hit < 0 {
		return false
	}

	m.aiFlags++
	payload := map[string]any{
		"question": question,
		"pattern":  m.cfg.AIPatterns[hit],
		"matched":  matched,
		"excerpt":  excerpt(text, m.cfg.ExcerptChars),
		"ai_flags": m.aiFlags,
	}
	m.log(model.ActivityAIContent, payload)

	for _, e := range m.cfg.AIEscalation {
		if e.At == m.aiFlags {
			m.notify(ctx, model.AlertAIContent, e.Severity, payload)
		}
	}
	return true
}

// InspectFocusChange records a visibility change. Hidden events are counted;
// a burst of rapid hides or reaching the cumulative limit escalates once
// until a calm gap ends the burst. It returns true when an alert was sent.
func (m *Monitor) InspectFocusChange(ctx context.Context, hidden bool) bool {
	if !hidden {
		return false
	}
	now := m.now()
	m.tabSwitches++
	m.log(model.ActivityTabSwitch, map[string]any{"tab_switches": m.tabSwitches})

	if !m.lastHidden.IsZero() && now.Sub(m.lastHidden) < m.cfg.RapidWindow {
		m.burst++
	} else {
		m.burst = 1
		m.burstEscalated = false
	}
	m.lastHidden = now

	if m.burstEscalated {
		return false
	}
	if m.burst >= m.cfg.BurstSize || m.tabSwitches == m.cfg.MaxTabSwitches {
		m.burstEscalated = true
		m.notify(ctx, model.AlertExcessiveTabSwitches, model.SeverityHigh, map[string]any{
			"tab_switches": m.tabSwitches,
			"burst":        m.burst,
		})
		return true
	}
	return false
}

// ObserveKeystroke feeds one inter-key interval into the rolling window and
// evaluates it once the window is full.
func (m *Monitor) ObserveKeystroke(ctx context.Context, intervalMs float64) bool {
	m.keystrokes = append(m.keystrokes, intervalMs)
	if len(m.keystrokes) > m.cfg.KeystrokeWindow {
		m.keystrokes = m.keystrokes[len(m.keystrokes)-m.cfg.KeystrokeWindow:]
	}
	if len(m.keystrokes) < m.cfg.KeystrokeWindow {
		return false
	}
	return m.InspectKeystrokeTiming(ctx, m.keystrokes)
}

// InspectKeystrokeTiming evaluates the last window of intervals. A window is
// uniform when its variance is tiny or its mean is implausibly fast; only a
// streak of uniform windows raises UNNATURAL_TYPING_PATTERN, once per streak.
func (m *Monitor) InspectKeystrokeTiming(ctx context.Context, intervalsMs []float64) bool {
	if len(intervalsMs) < m.cfg.KeystrokeWindow {
		return false
	}
	window := intervalsMs[len(intervalsMs)-m.cfg.KeystrokeWindow:]
	mean, variance := meanVariance(window)
	if variance >= m.cfg.VarianceThreshold && mean >= m.cfg.FastMeanMs {
		m.typingStreak = 0
		return false
	}
	m.typingStreak++
	if m.typingStreak != m.cfg.StreakRequired {
		return false
	}
	payload := map[string]any{
		"mean_ms":  round2(mean),
		"variance": round2(variance),
		"streak":   m.typingStreak,
	}
	m.log(model.ActivityUnnaturalTyping, payload)
	m.notify(ctx, model.AlertUnnaturalTyping, model.SeverityLow, payload)
	return true
}

// RecordActivity appends a record without escalation (copy, paste, skips).
func (m *Monitor) RecordActivity(kind model.ActivityKind, payload map[string]any) {
	m.log(kind, payload)
}

// Records returns a copy of the log.
func (m *Monitor) Records() []model.SuspicionRecord {
	out := make([]model.SuspicionRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Summary returns the footer counters.
func (m *Monitor) Summary() model.IntegritySummary {
	return model.IntegritySummary{
		SuspiciousActivities: len(m.records),
		AIFlags:              m.aiFlags,
		TabSwitches:          m.tabSwitches,
	}
}

// State exports the counters and log for snapshots.
func (m *Monitor) State() model.IntegrityState {
	st := model.IntegrityState{Records: m.Records(), AIFlags: m.aiFlags, TabSwitches: m.tabSwitches}
	for q, seen := range m.flagged {
		for i, p := range m.cfg.AIPatterns {
			if seen[i] {
				if st.Flagged == nil {
					st.Flagged = make(map[int][]string)
				}
				st.Flagged[q] = append(st.Flagged[q], p)
			}
		}
	}
	return st
}

// Restore loads counters, log and the per-question flag table from a
// snapshot. Snapshots without a flag table rebuild it from the
// AI_CONTENT_DETECTED records. Rolling windows start empty.
func (m *Monitor) Restore(s model.IntegrityState) {
	m.records = append([]model.SuspicionRecord(nil), s.Records...)
	m.aiFlags = s.AIFlags
	m.tabSwitches = s.TabSwitches
	m.flagged = make(map[int]map[int]bool)
	if s.Flagged != nil {
		for q, patterns := range s.Flagged {
			for _, p := range patterns {
				m.markFlagged(q, p)
			}
		}
	} else {
		for _, r := range m.records {
			if r.Kind != model.ActivityAIContent {
				continue
			}
			q, ok := payloadInt(r.Payload["question"])
			if !ok {
				continue
			}
			if p, _ := r.Payload["pattern"].(string); p != "" {
				m.markFlagged(q, p)
			}
			for _, p := range payloadStrings(r.Payload["matched"]) {
				m.markFlagged(q, p)
			}
		}
	}
	m.lastHidden = time.Time{}
	m.burst, m.burstEscalated = 0, false
	m.keystrokes, m.typingStreak = nil, 0
}

// markFlagged records pattern as already flagged for question. Patterns no
// longer in the configuration are ignored.
func (m *Monitor) markFlagged(question int, pattern string) {
	for i, p := range m.cfg.AIPatterns {
		if p != pattern {
			continue
		}
		seen := m.flagged[question]
		if seen == nil {
			seen = make(map[int]bool)
			m.flagged[question] = seen
		}
		seen[i] = true
		return
	}
}

func payloadStrings(v any) []string {
	switch xs := v.(type) {
	case []string:
		return xs
	case []any:
		out := make([]string, 0, len(xs))
		for _, x := range xs {
			if p, ok := x.(string); ok {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

// payloadInt reads a number that may have round-tripped through JSON.
func payloadInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (m *Monitor) log(kind model.ActivityKind, payload map[string]any) {
	m.records = append(m.records, model.SuspicionRecord{
		Kind:      kind,
		Timestamp: m.now().UTC(),
		Payload:   payload,
	})
}

func (m *Monitor) notify(ctx context.Context, kind model.AlertKind, sev model.Severity, payload map[string]any) {
	if m.notifier == nil {
		return
	}
	a := notify.NewAlert(kind, sev, m.sessionID, m.candidate, payload)
	if err := m.notifier.Notify(ctx, a); err != nil {
		slog.Warn("integrity alert failed", "kind", kind, "session_id", m.sessionID, "error", err)
	}
}

func meanVariance(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, sq / float64(len(xs))
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
