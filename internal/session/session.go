// Package session implements the assessment state machine: phases, question
// sequencing with skip and return-later semantics, progress and submission.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/integrity"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/notify"
	"github.com/pavelanni/assessor/internal/report"
	"github.com/pavelanni/assessor/internal/scoring"
)

// Config holds per-session rules.
type Config struct {
	// MaxSkips is the skip credit budget. A negative value means unlimited.
	MaxSkips      int    `mapstructure:"max_skips"`
	MinTextLength int    `mapstructure:"min_text_length"`
	MinCodeLength int    `mapstructure:"min_code_length"`
	IDPrefix      string `mapstructure:"id_prefix"`
	// IdleTimeout is how long an untouched session stays in memory after
	// an autosave. Zero keeps idle sessions until they are submitted.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// DefaultConfig returns the stock session rules.
func DefaultConfig() Config {
	return Config{
		MaxSkips:      2,
		MinTextLength: 20,
		MinCodeLength: 10,
		IDPrefix:      "DXT",
		IdleTimeout:   30 * time.Minute,
	}
}

// Bank is the question bank as seen by a session.
type Bank interface {
	Len() int
	Get(index int) (model.Question, bool)
	Questions() []model.Question
}

// Recorder persists finalized submissions.
type Recorder interface {
	SaveSubmission(ctx context.Context, sub model.Submission) error
}

// Reviewer produces advisory notes for the report. It never affects the score.
type Reviewer interface {
	ReviewSubmission(ctx context.Context, questions []model.Question, answers map[int]model.Answer) (string, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Bank      Bank
	Engine    *scoring.Engine
	Integrity integrity.Config
	Notifier  notify.Notifier
	Recorder  Recorder
	Reviewer  Reviewer
	Now       func() time.Time
}

// Session is one candidate's attempt. All methods are safe for concurrent use.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	mu                  sync.Mutex
	phase               model.Phase
	current             int
	skipsRemaining      int
	answers             *AnswerStore
	offered             orderedSet
	frontier            int
	resumeAt            int
	info                *model.PersonalInfo
	startedAt           time.Time
	assessmentStartedAt time.Time
	updatedAt           time.Time
	monitor             *integrity.Monitor
	submission          *model.Submission

	submitting atomic.Bool
	saveMu     sync.Mutex
}

// New creates a fresh session in the rules phase.
func New(id string, cfg Config, deps Deps) (*Session, error) {
	if deps.Bank == nil || deps.Bank.Len() == 0 {
		return nil, fmt.Errorf("session %s: empty question bank", id)
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("session %s: no scoring engine", id)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{id: id, cfg: cfg, deps: deps}
	if err := s.reset(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) reset() error {
	mon, err := integrity.New(s.deps.Integrity, s.deps.Notifier, s.id, integrity.WithClock(s.deps.Now))
	if err != nil {
		return fmt.Errorf("create integrity monitor: %w", err)
	}
	now := s.deps.Now()
	s.phase = model.PhaseRules
	s.current = 0
	s.skipsRemaining = s.cfg.MaxSkips
	if s.skipsRemaining < 0 {
		s.skipsRemaining = -1
	}
	s.answers = NewAnswerStore()
	s.offered = orderedSet{}
	s.frontier = 0
	s.resumeAt = 0
	s.info = nil
	s.startedAt = now
	s.assessmentStartedAt = time.Time{}
	s.updatedAt = now
	s.monitor = mon
	s.submission = nil
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// checkOpen must be called with mu held.
func (s *Session) checkOpen() error {
	if s.phase == model.PhaseSubmitted || s.submitting.Load() {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) touch() { s.updatedAt = s.deps.Now() }

// settled reports whether the session can leave memory: it is submitted,
// or it has not changed since cutoff. A zero cutoff only matches submitted
// sessions.
func (s *Session) settled(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting.Load() {
		return false
	}
	if s.phase == model.PhaseSubmitted {
		return true
	}
	return !cutoff.IsZero() && s.updatedAt.Before(cutoff)
}

// AcceptRules moves from the rules screen to the personal info form.
func (s *Session) AcceptRules() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.phase != model.PhaseRules {
		return ErrWrongPhase
	}
	s.phase = model.PhasePersonalInfo
	s.touch()
	return nil
}

// SubmitPersonalInfo validates the profile and starts the assessment at
// question 1. On a validation error nothing changes.
func (s *Session) SubmitPersonalInfo(info model.PersonalInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.phase != model.PhasePersonalInfo {
		return ErrWrongPhase
	}
	info = normalizeInfo(info)
	if err := ValidatePersonalInfo(info); err != nil {
		return err
	}
	s.info = &info
	s.monitor.SetCandidate(info.Username)
	s.phase = model.PhaseInProgress
	s.current = 1
	s.frontier = 1
	s.assessmentStartedAt = s.deps.Now()
	s.touch()
	return nil
}

// SaveAnswer upserts one answer field, marks the question completed and
// removes it from the skipped set. Text answers are inspected for AI-like
// phrasing.
func (s *Session) SaveAnswer(ctx context.Context, index int, kind model.AnswerKind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.phase != model.PhaseInProgress && s.phase != model.PhaseSubmitting {
		return ErrWrongPhase
	}
	if _, ok := s.deps.Bank.Get(index); !ok {
		return ErrInvalidQuestion
	}
	if !kind.Valid() {
		return ErrInvalidAnswerKind
	}
	s.answers.Save(index, kind, value)
	if kind == model.AnswerText {
		s.monitor.InspectText(ctx, value, index)
	}
	s.touch()
	return nil
}

// Advance validates the current question and moves on.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.phase != model.PhaseInProgress {
		return ErrWrongPhase
	}
	q, _ := s.deps.Bank.Get(s.current)
	a, _ := s.answers.Get(s.current)
	if err := s.checkAnswer(q, a); err != nil {
		return err
	}
	s.answers.MarkCompleted(s.current)
	s.moveOn()
	s.touch()
	return nil
}

func (s *Session) checkAnswer(q model.Question, a model.Answer) error {
	var fields []FieldError
	if q.RequiresText {
		if fe, ok := lengthCheck("text", a.Text, s.cfg.MinTextLength); !ok {
			fields = append(fields, fe)
		}
	}
	if q.RequiresCode {
		if fe, ok := lengthCheck("code", a.Code, s.cfg.MinCodeLength); !ok {
			fields = append(fields, fe)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func lengthCheck(field, value string, minLen int) (FieldError, bool) {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n == 0 {
		return FieldError{Field: field, Tag: "required", Message: field + " is required"}, false
	}
	if n < minLen {
		p := strconv.Itoa(minLen)
		return FieldError{Field: field, Tag: "min", Param: p, Message: field + " must be at least " + p + " characters"}, false
	}
	return FieldError{}, true
}

// Skip defers the current question. In the first pass it costs a credit;
// while resolving skipped questions it is free and the question stays skipped.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.phase != model.PhaseInProgress {
		return ErrWrongPhase
	}
	if !s.offered.has(s.current) {
		if s.skipsRemaining == 0 {
			return ErrNoSkipCredits
		}
		if s.skipsRemaining > 0 {
			s.skipsRemaining--
		}
	}
	s.answers.MarkSkipped(s.current)
	s.monitor.RecordActivity(model.ActivityQuestionSkipped, map[string]any{
		"question":        s.current,
		"skips_remaining": s.skipsRemaining,
	})
	s.moveOn()
	s.touch()
	return nil
}

// ReturnToSkipped jumps to the oldest skipped question not yet offered. The
// first pass resumes where it left off afterwards. A skipped question left
// unanswered by the jump goes back to the pending list.
func (s *Session) ReturnToSkipped() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.phase != model.PhaseInProgress {
		return ErrWrongPhase
	}
	next, ok := s.nextPendingSkip()
	if !ok {
		return ErrNothingSkipped
	}
	if s.resumeAt == 0 && !s.offered.has(s.current) {
		s.resumeAt = s.current
	}
	if s.offered.has(s.current) && s.answers.IsSkipped(s.current) {
		s.offered.remove(s.current)
	}
	s.offered.add(next)
	s.current = next
	s.touch()
	return nil
}

// moveOn picks the next question or enters the submitting phase.
// Must be called with mu held.
func (s *Session) moveOn() {
	if s.resumeAt > 0 {
		s.current, s.resumeAt = s.resumeAt, 0
		return
	}
	if s.frontier < s.deps.Bank.Len() {
		s.frontier++
		s.current = s.frontier
		return
	}
	if next, ok := s.nextPendingSkip(); ok {
		s.offered.add(next)
		s.current = next
		return
	}
	s.phase = model.PhaseSubmitting
}

func (s *Session) nextPendingSkip() (int, bool) {
	for _, i := range s.answers.skipped.items {
		if !s.offered.has(i) {
			return i, true
		}
	}
	return 0, false
}

// RequestHelp notifies reviewers that the candidate asked for help.
func (s *Session) RequestHelp(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	payload := map[string]any{
		"question":     s.current,
		"time_elapsed": s.elapsed().Round(time.Second).String(),
	}
	candidate := s.candidate()
	s.mu.Unlock()

	a := notify.NewAlert(model.AlertHelpRequest, model.SeverityInfo, s.id, candidate, payload)
	if err := s.deps.Notifier.Notify(ctx, a); err != nil {
		slog.Warn("help request delivery failed", "session_id", s.id, "error", err)
	}
	return nil
}

// FocusChange reports a visibility change to the integrity monitor.
func (s *Session) FocusChange(ctx context.Context, hidden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.monitor.InspectFocusChange(ctx, hidden)
	s.touch()
	return nil
}

// Keystrokes feeds inter-key intervals to the integrity monitor.
func (s *Session) Keystrokes(ctx context.Context, intervalsMs []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, ms := range intervalsMs {
		s.monitor.ObserveKeystroke(ctx, ms)
	}
	s.touch()
	return nil
}

// RecordActivity logs a copy or paste event.
func (s *Session) RecordActivity(kind model.ActivityKind, payload map[string]any) error {
	if kind != model.ActivityCopy && kind != model.ActivityPaste {
		return fmt.Errorf("unsupported activity %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if s.current > 0 {
		payload["question"] = s.current
	}
	s.monitor.RecordActivity(kind, payload)
	s.touch()
	return nil
}

// Submit finalizes the session. A call made while another submit is in
// flight returns (nil, nil). The report is delivered to the notifier after
// the submission is recorded; a recording failure reopens the session so the
// candidate can retry.
func (s *Session) Submit(ctx context.Context) (*model.Submission, error) {
	s.mu.Lock()
	if s.phase == model.PhaseSubmitted {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.phase != model.PhaseInProgress && s.phase != model.PhaseSubmitting {
		s.mu.Unlock()
		return nil, ErrWrongPhase
	}
	if !s.submitting.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil, nil
	}
	answers := s.answers.All()
	score := s.deps.Engine.Evaluate(s.deps.Bank, answers, s.answers.Status)
	sub := model.Submission{
		SessionID:   s.id,
		Candidate:   *s.info,
		Score:       score,
		Activities:  s.monitor.Records(),
		Integrity:   s.monitor.Summary(),
		StartedAt:   s.assessmentStartedAt,
		SubmittedAt: s.deps.Now().UTC(),
	}
	s.mu.Unlock()

	questions := s.deps.Bank.Questions()
	var notes string
	if s.deps.Reviewer != nil {
		n, err := s.deps.Reviewer.ReviewSubmission(ctx, questions, answers)
		if err != nil {
			slog.Warn("reviewer failed", "session_id", s.id, "error", err)
		}
		notes = n
	}
	sub.Document = report.Build(report.Input{
		SessionID:   s.id,
		Candidate:   sub.Candidate,
		Questions:   questions,
		Answers:     answers,
		Score:       score,
		Integrity:   sub.Integrity,
		StartedAt:   sub.StartedAt,
		SubmittedAt: sub.SubmittedAt,
		Notes:       notes,
	})

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.SaveSubmission(ctx, sub); err != nil {
			s.submitting.Store(false)
			return nil, fmt.Errorf("save submission: %w", err)
		}
	}

	alert := notify.NewAlert(model.AlertApplicationSubmitted, model.SeverityInfo, s.id, sub.Candidate.Username, map[string]any{
		"score":     score.FinalScore,
		"grade":     string(score.Grade),
		"attempted": score.Attempted,
		"filename":  sub.Document.Filename,
	})
	if err := s.deps.Notifier.Deliver(ctx, alert, sub.Document); err != nil {
		slog.Warn("submission delivery failed", "session_id", s.id, "error", err)
	}

	s.mu.Lock()
	s.phase = model.PhaseSubmitted
	s.submission = &sub
	s.touch()
	s.mu.Unlock()
	s.submitting.Store(false)
	slog.Info("session submitted", "session_id", s.id, "score", score.FinalScore, "grade", score.Grade)
	return &sub, nil
}

// Submission returns the finalized submission, or nil.
func (s *Session) Submission() *model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submission
}

// Reset discards all progress and returns to the rules phase.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.reset()
}

// Progress returns the displayed completion percentage.
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress()
}

func (s *Session) progress() int {
	switch s.phase {
	case model.PhasePersonalInfo:
		return 10
	case model.PhaseInProgress:
		n := s.deps.Bank.Len()
		return int(math.Round(25 + float64(s.answers.completed.len())/float64(n)*65))
	case model.PhaseSubmitting:
		return 90
	case model.PhaseSubmitted:
		return 100
	default:
		return 0
	}
}

// Score computes the current score report. It is derived on demand.
func (s *Session) Score() model.ScoreReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Engine.Evaluate(s.deps.Bank, s.answers.All(), s.answers.Status)
}

// View is the client-facing state of a session.
type View struct {
	SessionID      string                 `json:"session_id"`
	Phase          model.Phase            `json:"phase"`
	Progress       int                    `json:"progress"`
	Current        *model.Question        `json:"current,omitempty"`
	Answer         *model.Answer          `json:"answer,omitempty"`
	SkipsRemaining int                    `json:"skips_remaining"`
	Skipped        []int                  `json:"skipped"`
	Completed      []int                  `json:"completed"`
	PendingSkips   int                    `json:"pending_skips"`
	Total          int                    `json:"total"`
	Elapsed        string                 `json:"elapsed,omitempty"`
	Integrity      model.IntegritySummary `json:"integrity"`
}

// View returns a copy of the state for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		SessionID:      s.id,
		Phase:          s.phase,
		Progress:       s.progress(),
		SkipsRemaining: s.skipsRemaining,
		Skipped:        s.answers.Skipped(),
		Completed:      s.answers.Completed(),
		Total:          s.deps.Bank.Len(),
		Integrity:      s.monitor.Summary(),
	}
	for _, i := range s.answers.skipped.items {
		if !s.offered.has(i) {
			v.PendingSkips++
		}
	}
	if s.phase == model.PhaseInProgress {
		if q, ok := s.deps.Bank.Get(s.current); ok {
			v.Current = &q
			a, _ := s.answers.Get(s.current)
			v.Answer = &a
		}
	}
	if !s.assessmentStartedAt.IsZero() {
		v.Elapsed = s.elapsed().Round(time.Second).String()
	}
	return v
}

// Summary returns the listing row for admin views.
func (s *Session) Summary() model.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := model.SessionSummary{
		SessionID: s.id,
		Candidate: s.candidate(),
		Phase:     s.phase,
		UpdatedAt: s.updatedAt,
	}
	if s.submission != nil {
		score := s.submission.Score.FinalScore
		at := s.submission.SubmittedAt
		sum.FinalScore = &score
		sum.Grade = s.submission.Score.Grade
		sum.SubmittedAt = &at
	}
	return sum
}

func (s *Session) candidate() string {
	if s.info == nil {
		return ""
	}
	return s.info.Username
}

func (s *Session) elapsed() time.Duration {
	if s.assessmentStartedAt.IsZero() {
		return s.deps.Now().Sub(s.startedAt)
	}
	return s.deps.Now().Sub(s.assessmentStartedAt)
}

// Snapshot captures the persisted form of the session.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := model.Snapshot{
		SessionID:            s.id,
		Phase:                s.phase,
		CurrentQuestionIndex: s.current,
		Answers:              s.answers.All(),
		SkipsRemaining:       s.skipsRemaining,
		SkippedQuestions:     s.answers.Skipped(),
		CompletedQuestions:   s.answers.Completed(),
		OfferedQuestions:     s.offered.slice(),
		Frontier:             s.frontier,
		ResumeAt:             s.resumeAt,
		StartedAt:            s.startedAt,
		Integrity:            s.monitor.State(),
		Timestamp:            s.updatedAt,
	}
	if s.info != nil {
		info := *s.info
		snap.PersonalInfo = &info
	}
	if !s.assessmentStartedAt.IsZero() {
		at := s.assessmentStartedAt
		snap.AssessmentStartedAt = &at
	}
	return snap
}

// Restore replaces the state with snap. An inconsistent snapshot is
// rejected and the session is left untouched.
func (s *Session) Restore(snap model.Snapshot) error {
	if err := s.checkSnapshot(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = snap.Phase
	s.current = snap.CurrentQuestionIndex
	s.skipsRemaining = snap.SkipsRemaining
	s.answers = restoreAnswerStore(snap.Answers, snap.CompletedQuestions, snap.SkippedQuestions)
	s.offered = newOrderedSet(snap.OfferedQuestions)
	s.frontier = snap.Frontier
	s.resumeAt = snap.ResumeAt
	s.info = nil
	if snap.PersonalInfo != nil {
		info := *snap.PersonalInfo
		s.info = &info
		s.monitor.SetCandidate(info.Username)
	}
	s.startedAt = snap.StartedAt
	s.assessmentStartedAt = time.Time{}
	if snap.AssessmentStartedAt != nil {
		s.assessmentStartedAt = *snap.AssessmentStartedAt
	}
	s.updatedAt = snap.Timestamp
	s.monitor.Restore(snap.Integrity)
	return nil
}

func (s *Session) checkSnapshot(snap model.Snapshot) error {
	n := s.deps.Bank.Len()
	inRange := func(i int) bool { return i >= 1 && i <= n }
	switch snap.Phase {
	case model.PhaseRules, model.PhasePersonalInfo:
	case model.PhaseInProgress:
		if !inRange(snap.CurrentQuestionIndex) || !inRange(snap.Frontier) {
			return fmt.Errorf("snapshot cursor %d/%d out of range", snap.CurrentQuestionIndex, snap.Frontier)
		}
		fallthrough
	case model.PhaseSubmitting, model.PhaseSubmitted:
		if snap.PersonalInfo == nil {
			return fmt.Errorf("snapshot in phase %s has no personal info", snap.Phase)
		}
	default:
		return fmt.Errorf("unknown phase %q", snap.Phase)
	}
	if snap.SkipsRemaining < -1 {
		return fmt.Errorf("invalid skip count %d", snap.SkipsRemaining)
	}
	for k := range snap.Answers {
		if !inRange(k) {
			return fmt.Errorf("answer for question %d out of range", k)
		}
	}
	for _, list := range [][]int{snap.SkippedQuestions, snap.CompletedQuestions, snap.OfferedQuestions} {
		for _, i := range list {
			if !inRange(i) {
				return fmt.Errorf("question %d out of range", i)
			}
		}
	}
	if snap.ResumeAt != 0 && !inRange(snap.ResumeAt) {
		return fmt.Errorf("resume index %d out of range", snap.ResumeAt)
	}
	return nil
}
