package model

import (
	"context"
	"time"
)

// UserRole represents an admin console user's access level.
type UserRole string

const (
	// UserRoleReviewer can read submissions and reports.
	UserRoleReviewer UserRole = "reviewer"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents an admin console user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an admin authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Phase is the coarse state of an assessment session.
type Phase string

const (
	PhaseRules        Phase = "rules"
	PhasePersonalInfo Phase = "personal_info"
	PhaseInProgress   Phase = "in_progress"
	PhaseSubmitting   Phase = "submitting"
	PhaseSubmitted    Phase = "submitted"
)

// AnswerKind selects the answer channel a value is written to.
type AnswerKind string

const (
	AnswerText AnswerKind = "text"
	AnswerCode AnswerKind = "code"
)

// Valid reports whether k is a known answer channel.
func (k AnswerKind) Valid() bool {
	return k == AnswerText || k == AnswerCode
}

// Question is a single entry of the question bank.
type Question struct {
	Index        int    `json:"index" yaml:"-"`
	Text         string `json:"text" yaml:"text"`
	RequiresText bool   `json:"requires_text" yaml:"requires_text"`
	RequiresCode bool   `json:"requires_code" yaml:"requires_code"`
	Points       int    `json:"points" yaml:"points"`
}

// Answer holds the fields collected for one question.
type Answer struct {
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

// PersonalInfo is the applicant profile collected before the assessment starts.
type PersonalInfo struct {
	FullName     string `json:"full_name" validate:"required,max=120"`
	Username     string `json:"username" validate:"required,max=64"`
	DiscordID    string `json:"discord_id" validate:"required,max=64"`
	Age          int    `json:"age" validate:"required,gte=13,lte=120"`
	Nationality  string `json:"nationality" validate:"required"`
	Timezone     string `json:"timezone" validate:"required"`
	Availability string `json:"availability" validate:"required"`
	Experience   string `json:"experience" validate:"required"`
	Motivation   string `json:"motivation" validate:"required"`
	Portfolio    string `json:"portfolio,omitempty" validate:"omitempty,url"`
}

// QuestionStatus is the per-question outcome shown in reports.
type QuestionStatus string

const (
	StatusNotAttempted QuestionStatus = "not attempted"
	StatusSkipped      QuestionStatus = "skipped"
	StatusCompleted    QuestionStatus = "completed"
)

// Grade is a coarse qualification tier derived from the final score.
type Grade string

const (
	GradeNotQualified Grade = "NOT_QUALIFIED"
	GradeTrainee      Grade = "TRAINEE"
	GradeJunior       Grade = "JUNIOR"
	GradeRegular      Grade = "REGULAR"
	GradeSenior       Grade = "SENIOR"
)

// QuestionScore is one line of a score breakdown.
type QuestionScore struct {
	Index     int            `json:"index"`
	Points    int            `json:"points"`
	Awarded   float64        `json:"awarded"`
	Attempted bool           `json:"attempted"`
	Status    QuestionStatus `json:"status"`
}

// ScoreReport is derived from the answers on demand and never stored as authoritative state.
type ScoreReport struct {
	FinalScore   int             `json:"final_score"`
	Grade        Grade           `json:"grade"`
	Attempted    int             `json:"attempted"`
	Awarded      float64         `json:"awarded"`
	MaxAttempted int             `json:"max_attempted"`
	Breakdown    []QuestionScore `json:"breakdown"`
}

// ActivityKind classifies a suspicion record.
type ActivityKind string

const (
	ActivityAIContent       ActivityKind = "AI_CONTENT_DETECTED"
	ActivityTabSwitch       ActivityKind = "TAB_SWITCH"
	ActivityUnnaturalTyping ActivityKind = "UNNATURAL_TYPING_PATTERN"
	ActivityCopy            ActivityKind = "COPY_ACTION"
	ActivityPaste           ActivityKind = "PASTE_ACTION"
	ActivityQuestionSkipped ActivityKind = "QUESTION_SKIPPED"
)

// SuspicionRecord is a logged heuristic signal of possibly non-genuine behavior.
type SuspicionRecord struct {
	Kind      ActivityKind   `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// IntegrityState is the monitor state carried in snapshots.
type IntegrityState struct {
	Records     []SuspicionRecord `json:"records"`
	AIFlags     int               `json:"ai_flags"`
	TabSwitches int               `json:"tab_switches"`
	// question index -> AI patterns that already flagged it
	Flagged map[int][]string `json:"flagged,omitempty"`
}

// IntegritySummary holds the counters printed in the report footer.
type IntegritySummary struct {
	SuspiciousActivities int `json:"suspicious_activities"`
	AIFlags              int `json:"ai_flags"`
	TabSwitches          int `json:"tab_switches"`
}

// AlertKind identifies a notification sent to the external sink.
type AlertKind string

const (
	AlertHelpRequest          AlertKind = "HELP_REQUEST"
	AlertApplicationSubmitted AlertKind = "APPLICATION_SUBMITTED"
	AlertAIContent            AlertKind = "AI_CONTENT_DETECTED"
	AlertExcessiveTabSwitches AlertKind = "EXCESSIVE_TAB_SWITCHING"
	AlertUnnaturalTyping      AlertKind = "UNNATURAL_TYPING_PATTERN"
)

// Severity ranks an alert for the receiving side.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// Alert is the structured notification handed to a notifier.
type Alert struct {
	ID        string         `json:"id"`
	Kind      AlertKind      `json:"kind"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Candidate string         `json:"candidate,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Document is a human-readable report file.
type Document struct {
	Filename string `json:"filename"`
	Body     string `json:"body"`
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	SessionID            string         `json:"session_id"`
	Phase                Phase          `json:"phase"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	Answers              map[int]Answer `json:"answers"`
	SkipsRemaining       int            `json:"skipsRemaining"`
	SkippedQuestions     []int          `json:"skippedQuestions"`
	CompletedQuestions   []int          `json:"completedQuestions"`
	OfferedQuestions     []int          `json:"offeredQuestions,omitempty"`
	Frontier             int            `json:"frontier"`
	ResumeAt             int            `json:"resumeAt,omitempty"`
	PersonalInfo         *PersonalInfo  `json:"personalInfo,omitempty"`
	StartedAt            time.Time      `json:"startedAt"`
	AssessmentStartedAt  *time.Time     `json:"assessmentStartedAt,omitempty"`
	Integrity            IntegrityState `json:"integrity"`
	Timestamp            time.Time      `json:"timestamp"`
}

// Submission is the finalized outcome of a session.
type Submission struct {
	SessionID   string            `json:"session_id"`
	Candidate   PersonalInfo      `json:"candidate"`
	Score       ScoreReport       `json:"score"`
	Document    Document          `json:"document"`
	Activities  []SuspicionRecord `json:"activities"`
	Integrity   IntegritySummary  `json:"integrity"`
	StartedAt   time.Time         `json:"started_at"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// SessionSummary is one row of the admin session listing.
type SessionSummary struct {
	SessionID   string     `json:"session_id"`
	Candidate   string     `json:"candidate"`
	Phase       Phase      `json:"phase"`
	FinalScore  *int       `json:"final_score,omitempty"`
	Grade       Grade      `json:"grade,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}
