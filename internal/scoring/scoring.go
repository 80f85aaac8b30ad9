// Package scoring grades answers heuristically and maps the total to a grade.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/model"
)

// LengthTier unlocks Fraction of the text allowance once the answer has at least MinChars runes.
type LengthTier struct {
	MinChars int     `mapstructure:"min_chars" json:"min_chars"`
	Fraction float64 `mapstructure:"fraction" json:"fraction"`
}

// Denominator selects which questions' points form the final score denominator.
type Denominator string

const (
	// DenominatorAttempted counts only questions with a recorded answer.
	DenominatorAttempted Denominator = "attempted"
	// DenominatorAll counts every question in the bank.
	DenominatorAll Denominator = "all"
)

// Rules is the scoring configuration. Every number and vocabulary here is heuristic.
type Rules struct {
	TextWeight    float64      `mapstructure:"text_weight"`
	CodeWeight    float64      `mapstructure:"code_weight"`
	LengthTiers   []LengthTier `mapstructure:"length_tiers"`
	KeywordBonus  float64      `mapstructure:"keyword_bonus"`
	Keywords      []string     `mapstructure:"keywords"`
	CodeMinLength int          `mapstructure:"code_min_length"`
	CodeMinBonus  float64      `mapstructure:"code_min_bonus"`
	SyntaxTokens  []string     `mapstructure:"syntax_tokens"`
	SyntaxBonus   float64      `mapstructure:"syntax_bonus"`
	Advanced      []string     `mapstructure:"advanced"`
	AdvancedBonus float64      `mapstructure:"advanced_bonus"`
	Denominator   Denominator  `mapstructure:"denominator"`
}

// DefaultRules returns the stock text/code heuristics.
func DefaultRules() Rules {
	return Rules{
		TextWeight: 0.6,
		CodeWeight: 0.4,
		LengthTiers: []LengthTier{
			{MinChars: 50, Fraction: 0.2},
			{MinChars: 150, Fraction: 0.2},
			{MinChars: 300, Fraction: 0.2},
		},
		KeywordBonus: 0.4,
		Keywords: []string{
			"metatable", "metamethod", "hook", "exploit", "remote", "client",
			"server", "protection", "bypass", "validation", "sanity check", "rate limit",
		},
		CodeMinLength: 10,
		CodeMinBonus:  0.2,
		SyntaxTokens:  []string{"function", "local", "=", "end", "return"},
		SyntaxBonus:   0.4,
		Advanced: []string{
			"hookmetamethod", "getrawmetatable", "newcclosure", "checkcaller", "protectgui",
			"setmetatable", "getmetatable", "rawget", "rawset", "rawequal",
			"coroutine.wrap", "task.spawn", "task.defer", "__index", "__newindex", "__namecall",
		},
		AdvancedBonus: 0.4,
		Denominator:   DenominatorAttempted,
	}
}

// Validate checks the rules for values that would break the score range.
func (r Rules) Validate() error {
	if r.TextWeight < 0 || r.CodeWeight < 0 {
		return fmt.Errorf("weights must not be negative")
	}
	for _, t := range r.LengthTiers {
		if t.MinChars < 0 || t.Fraction < 0 {
			return fmt.Errorf("invalid length tier %+v", t)
		}
	}
	switch r.Denominator {
	case DenominatorAttempted, DenominatorAll:
	default:
		return fmt.Errorf("unknown denominator %q", r.Denominator)
	}
	return nil
}

// Engine evaluates answers against Rules and grades the total against a GradeTable.
type Engine struct {
	rules  Rules
	grades GradeTable
}

// New creates an Engine. Keywords are matched case-insensitively; advanced names exactly.
func New(rules Rules, grades GradeTable) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("scoring rules: %w", err)
	}
	if err := grades.Validate(); err != nil {
		return nil, fmt.Errorf("grade table: %w", err)
	}
	lowered := make([]string, len(rules.Keywords))
	for i, k := range rules.Keywords {
		lowered[i] = strings.ToLower(k)
	}
	rules.Keywords = lowered
	tiers := make([]LengthTier, len(rules.LengthTiers))
	copy(tiers, rules.LengthTiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinChars < tiers[j].MinChars })
	rules.LengthTiers = tiers
	return &Engine{rules: rules, grades: grades}, nil
}

// EvaluateAnswer returns the award for one answer, in [0, q.Points].
func (e *Engine) EvaluateAnswer(q model.Question, a model.Answer) float64 {
	score := 0.0
	if q.RequiresText && strings.TrimSpace(a.Text) != "" {
		score += e.evaluateText(a.Text, float64(q.Points)*e.rules.TextWeight)
	}
	if q.RequiresCode && strings.TrimSpace(a.Code) != "" {
		score += e.evaluateCode(a.Code, float64(q.Points)*e.rules.CodeWeight)
	}
	return math.Min(float64(q.Points), score)
}

func (e *Engine) evaluateText(text string, allowance float64) float64 {
	score := 0.0
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	for _, tier := range e.rules.LengthTiers {
		if n >= tier.MinChars {
			score += allowance * tier.Fraction
		}
	}
	lower := strings.ToLower(text)
	for _, k := range e.rules.Keywords {
		if strings.Contains(lower, k) {
			score += allowance * e.rules.KeywordBonus
			break
		}
	}
	return score
}

func (e *Engine) evaluateCode(code string, allowance float64) float64 {
	score := 0.0
	if utf8.RuneCountInString(strings.TrimSpace(code)) >= e.rules.CodeMinLength {
		score += allowance * e.rules.CodeMinBonus
	}
	if containsAny(code, e.rules.SyntaxTokens) {
		score += allowance * e.rules.SyntaxBonus
	}
	if containsAny(code, e.rules.Advanced) {
		score += allowance * e.rules.AdvancedBonus
	}
	return score
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Attempted reports whether an answer counts toward the score denominator.
func Attempted(a model.Answer) bool {
	return strings.TrimSpace(a.Text) != "" || strings.TrimSpace(a.Code) != ""
}

// Bank is the subset of the question bank the engine needs.
type Bank interface {
	Len() int
	Get(index int) (model.Question, bool)
}

// Evaluate computes the full score report. status supplies the per-question
// session status; a nil status derives it from the answer alone.
func (e *Engine) Evaluate(b Bank, answers map[int]model.Answer, status func(index int) model.QuestionStatus) model.ScoreReport {
	var rep model.ScoreReport
	denominator := 0
	for i := 1; i <= b.Len(); i++ {
		q, _ := b.Get(i)
		a, ok := answers[i]
		attempted := ok && Attempted(a)
		qs := model.QuestionScore{Index: i, Points: q.Points, Attempted: attempted}
		if attempted {
			qs.Awarded = e.EvaluateAnswer(q, a)
			rep.Attempted++
			rep.Awarded += qs.Awarded
			rep.MaxAttempted += q.Points
		}
		if e.rules.Denominator == DenominatorAll || attempted {
			denominator += q.Points
		}
		switch {
		case status != nil:
			qs.Status = status(i)
		case attempted:
			qs.Status = model.StatusCompleted
		default:
			qs.Status = model.StatusNotAttempted
		}
		rep.Breakdown = append(rep.Breakdown, qs)
	}
	rep.FinalScore = percent(rep.Awarded, denominator)
	rep.Grade = e.grades.Grade(rep.FinalScore)
	return rep
}

// FinalScore returns the 0..100 score for a set of answers. With nothing
// attempted the score is 0.
func (e *Engine) FinalScore(b Bank, answers map[int]model.Answer) int {
	return e.Evaluate(b, answers, nil).FinalScore
}

// Grade maps a final score to a grade using the configured table.
func (e *Engine) Grade(score int) model.Grade {
	return e.grades.Grade(score)
}

func percent(awarded float64, denominator int) int {
	if denominator <= 0 {
		return 0
	}
	p := int(math.Round(awarded / float64(denominator) * 100))
	return max(0, min(100, p))
}
