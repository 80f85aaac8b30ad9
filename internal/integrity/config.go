package integrity

import (
	"fmt"
	"regexp"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// Escalation sends an alert of the given severity when the AI flag count reaches At.
type Escalation struct {
	At       int            `mapstructure:"at"`
	Severity model.Severity `mapstructure:"severity"`
}

// Config holds the monitor heuristics. None of these values are security guarantees.
type Config struct {
	AIPatterns        []string      `mapstructure:"ai_patterns"`
	AIEscalation      []Escalation  `mapstructure:"ai_escalation"`
	ExcerptChars      int           `mapstructure:"excerpt_chars"`
	RapidWindow       time.Duration `mapstructure:"rapid_window"`
	BurstSize         int           `mapstructure:"burst_size"`
	MaxTabSwitches    int           `mapstructure:"max_tab_switches"`
	KeystrokeWindow   int           `mapstructure:"keystroke_window"`
	VarianceThreshold float64       `mapstructure:"variance_threshold"`
	FastMeanMs        float64       `mapstructure:"fast_mean_ms"`
	StreakRequired    int           `mapstructure:"streak_required"`
}

// DefaultConfig returns the stock thresholds and phrase table.
func DefaultConfig() Config {
	return Config{
		AIPatterns: []string{
			`as an AI language model`,
			`as a large language model`,
			`I am an AI assistant`,
			`according to my knowledge`,
			`based on the information`,
			`I don[’']t have personal opinions`,
			`I hope this helps`,
			`my knowledge cutoff`,
		},
		AIEscalation: []Escalation{
			{At: 1, Severity: model.SeverityLow},
			{At: 3, Severity: model.SeverityHigh},
		},
		ExcerptChars:      100,
		RapidWindow:       5 * time.Second,
		BurstSize:         3,
		MaxTabSwitches:    5,
		KeystrokeWindow:   10,
		VarianceThreshold: 100,
		FastMeanMs:        50,
		StreakRequired:    3,
	}
}

// compile turns the phrase table into case-insensitive expressions.
func (c Config) compile() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(c.AIPatterns))
	for _, p := range c.AIPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Validate rejects thresholds that would disable the monitor by accident.
func (c Config) Validate() error {
	if c.KeystrokeWindow < 2 {
		return fmt.Errorf("keystroke_window must be at least 2, got %d", c.KeystrokeWindow)
	}
	if c.StreakRequired < 1 || c.BurstSize < 1 || c.MaxTabSwitches < 1 {
		return fmt.Errorf("streak_required, burst_size and max_tab_switches must be positive")
	}
	if c.RapidWindow <= 0 {
		return fmt.Errorf("rapid_window must be positive")
	}
	_, err := c.compile()
	return err
}
