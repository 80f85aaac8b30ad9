// Package report renders the plain-text document handed to reviewers with a
// finished assessment.
package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

const notProvided = "not provided"

// Input is everything a report is built from.
type Input struct {
	SessionID   string
	Candidate   model.PersonalInfo
	Questions   []model.Question
	Answers     map[int]model.Answer
	Score       model.ScoreReport
	Integrity   model.IntegritySummary
	StartedAt   time.Time
	SubmittedAt time.Time
	// Notes are optional reviewer remarks appended after the integrity footer.
	Notes string
}

// Build renders the document and its file name.
func Build(in Input) model.Document {
	return model.Document{
		Filename: Filename(in.Candidate.Username, in.SessionID),
		Body:     Render(in),
	}
}

// Render writes the sections in a fixed order: profile, motivation, score
// summary, one block per question, integrity footer, reviewer notes.
func Render(in Input) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "CANDIDATE ASSESSMENT REPORT")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Session:      %s\n", in.SessionID)
	fmt.Fprintf(&b, "Started:      %s\n", formatTime(in.StartedAt))
	fmt.Fprintf(&b, "Submitted:    %s\n", formatTime(in.SubmittedAt))
	if !in.StartedAt.IsZero() && !in.SubmittedAt.IsZero() {
		fmt.Fprintf(&b, "Duration:     %s\n", in.SubmittedAt.Sub(in.StartedAt).Round(time.Second))
	}
	fmt.Fprintln(&b)

	c := in.Candidate
	fmt.Fprintln(&b, "CANDIDATE PROFILE")
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "Full name:    %s\n", c.FullName)
	fmt.Fprintf(&b, "Username:     %s\n", c.Username)
	fmt.Fprintf(&b, "Discord ID:   %s\n", c.DiscordID)
	fmt.Fprintf(&b, "Age:          %d\n", c.Age)
	fmt.Fprintf(&b, "Nationality:  %s\n", c.Nationality)
	fmt.Fprintf(&b, "Timezone:     %s\n", c.Timezone)
	fmt.Fprintf(&b, "Availability: %s\n", c.Availability)
	fmt.Fprintf(&b, "Experience:   %s\n", c.Experience)
	fmt.Fprintf(&b, "Portfolio:    %s\n", orNotProvided(c.Portfolio))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "MOTIVATION")
	fmt.Fprintln(&b, thin)
	fmt.Fprintln(&b, c.Motivation)
	fmt.Fprintln(&b)

	s := in.Score
	fmt.Fprintln(&b, "SCORE SUMMARY")
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "Final score:  %d/100\n", s.FinalScore)
	fmt.Fprintf(&b, "Grade:        %s\n", s.Grade)
	fmt.Fprintf(&b, "Attempted:    %d of %d questions\n", s.Attempted, len(in.Questions))
	fmt.Fprintf(&b, "Points:       %.1f of %d attempted\n", s.Awarded, s.MaxAttempted)
	fmt.Fprintln(&b)

	breakdown := make(map[int]model.QuestionScore, len(s.Breakdown))
	for _, qs := range s.Breakdown {
		breakdown[qs.Index] = qs
	}
	fmt.Fprintln(&b, "ANSWERS")
	fmt.Fprintln(&b, thin)
	for _, q := range in.Questions {
		a := in.Answers[q.Index]
		qs := breakdown[q.Index]
		status := qs.Status
		if status == "" {
			status = model.StatusNotAttempted
		}
		fmt.Fprintf(&b, "Question %d (%d pts): %s\n", q.Index, q.Points, q.Text)
		fmt.Fprintf(&b, "Answer: %s\n", orNotProvided(a.Text))
		if q.RequiresCode {
			fmt.Fprintf(&b, "Code:\n%s\n", orNotProvided(a.Code))
		}
		fmt.Fprintf(&b, "Status: %s, awarded %.1f\n", status, qs.Awarded)
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "SESSION INTEGRITY")
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "Suspicious activities: %d\n", in.Integrity.SuspiciousActivities)
	fmt.Fprintf(&b, "AI flags:              %d\n", in.Integrity.AIFlags)
	fmt.Fprintf(&b, "Tab switches:          %d\n", in.Integrity.TabSwitches)

	if notes := strings.TrimSpace(in.Notes); notes != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "REVIEWER NOTES (advisory)")
		fmt.Fprintln(&b, thin)
		fmt.Fprintln(&b, notes)
	}
	return b.String()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename returns "<identifier>_<sessionID>.txt" with the identifier reduced
// to a filesystem-safe form.
func Filename(identifier, sessionID string) string {
	id := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(identifier), "_"), "._")
	if id == "" {
		id = "candidate"
	}
	return id + "_" + sessionID + ".txt"
}

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return notProvided
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
