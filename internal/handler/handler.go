package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/bank"
	"github.com/pavelanni/assessor/internal/handler/views"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
)

const maxBodyBytes = 1 << 20

// Config holds HTTP-layer settings.
type Config struct {
	BasePath      string
	SecureCookies bool
	AuthTTL       time.Duration
	MaxSkips      int
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions *session.Manager
	bank     *bank.Bank
	store    *store.Store
	config   Config
}

// New creates a new Handler.
func New(m *session.Manager, b *bank.Bank, s *store.Store, cfg Config) *Handler {
	if cfg.AuthTTL <= 0 {
		cfg.AuthTTL = 12 * time.Hour
	}
	return &Handler{sessions: m, bank: b, store: s, config: cfg}
}

// path prefixes p with the configured base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(appI18n.Middleware())
	r.Get("/", h.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Get("/questions", h.handleQuestions)
		r.Post("/sessions", h.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Post("/rules", h.sessionAction(func(_ *http.Request, s *session.Session) error {
				return s.AcceptRules()
			}))
			r.Post("/personal-info", h.handlePersonalInfo)
			r.Put("/answers/{index}", h.handleSaveAnswer)
			r.Post("/advance", h.sessionAction(func(_ *http.Request, s *session.Session) error {
				return s.Advance()
			}))
			r.Post("/skip", h.sessionAction(func(_ *http.Request, s *session.Session) error {
				return s.Skip()
			}))
			r.Post("/return", h.sessionAction(func(_ *http.Request, s *session.Session) error {
				return s.ReturnToSkipped()
			}))
			r.Post("/reset", h.sessionAction(func(_ *http.Request, s *session.Session) error {
				return s.Reset()
			}))
			r.Post("/help", h.handleHelp)
			r.Post("/events/focus", h.handleFocus)
			r.Post("/events/keystrokes", h.handleKeystrokes)
			r.Post("/events/activity", h.handleActivity)
			r.Post("/submit", h.handleSubmit)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(requireRole(model.UserRoleAdmin, model.UserRoleReviewer))
			r.Get("/sessions", h.handleAdminSessions)
			r.Get("/sessions/{sessionID}/report", h.handleReportDownload)
		})
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.IndexPage(h.bank.Len(), h.config.MaxSkips, h.config.BasePath).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"questions":    h.bank.Questions(),
		"total_points": h.bank.TotalPoints(),
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// sessionAction adapts a session mutation into a handler that persists the
// new state and responds with the session view.
func (h *Handler) sessionAction(fn func(r *http.Request, s *session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.loadSession(w, r)
		if !ok {
			return
		}
		if err := fn(r, s); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.persist(r.Context(), s)
		writeJSON(w, http.StatusOK, s.View())
	}
}

func (h *Handler) handlePersonalInfo(w http.ResponseWriter, r *http.Request) {
	var info model.PersonalInfo
	if !h.decode(w, r, &info) {
		return
	}
	h.sessionAction(func(_ *http.Request, s *session.Session) error {
		return s.SubmitPersonalInfo(info)
	})(w, r)
}

type answerRequest struct {
	Kind  model.AnswerKind `json:"kind"`
	Value string           `json:"value"`
}

func (h *Handler) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeError(w, r, session.ErrInvalidQuestion)
		return
	}
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.sessionAction(func(r *http.Request, s *session.Session) error {
		return s.SaveAnswer(r.Context(), index, req.Kind, req.Value)
	})(w, r)
}

func (h *Handler) handleHelp(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if err := s.RequestHelp(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": appI18n.T(r.Context(), "HelpRequested")})
}

type focusRequest struct {
	Hidden bool `json:"hidden"`
}

func (h *Handler) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.event(w, r, func(s *session.Session) error {
		return s.FocusChange(r.Context(), req.Hidden)
	})
}

type keystrokeRequest struct {
	IntervalsMs []float64 `json:"intervals_ms"`
}

func (h *Handler) handleKeystrokes(w http.ResponseWriter, r *http.Request) {
	var req keystrokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.event(w, r, func(s *session.Session) error {
		return s.Keystrokes(r.Context(), req.IntervalsMs)
	})
}

type activityRequest struct {
	Kind    model.ActivityKind `json:"kind"`
	Payload map[string]any     `json:"payload"`
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Kind != model.ActivityCopy && req.Kind != model.ActivityPaste {
		h.writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return
	}
	h.event(w, r, func(s *session.Session) error {
		return s.RecordActivity(req.Kind, req.Payload)
	})
}

// event runs a monitoring callback. Events carry no state the client needs
// back, so success is 204.
func (h *Handler) event(w http.ResponseWriter, r *http.Request, fn func(s *session.Session) error) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if err := fn(s); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitResponse struct {
	SessionID string      `json:"session_id"`
	Score     int         `json:"score"`
	Grade     model.Grade `json:"grade"`
	Report    string      `json:"report"`
	Message   string      `json:"message"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	// The submission must be recorded even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	sub, err := s.Submit(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.persist(ctx, s)
	if sub == nil {
		writeJSON(w, http.StatusAccepted, s.View())
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		SessionID: sub.SessionID,
		Score:     sub.Score.FinalScore,
		Grade:     sub.Score.Grade,
		Report:    sub.Document.Filename,
		Message:   appI18n.T(r.Context(), "AssessmentSubmitted"),
	})
}

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) persist(ctx context.Context, s *session.Session) {
	if err := h.sessions.Save(ctx, s); err != nil {
		slog.Warn("failed to save session state", "session_id", s.ID(), "error", err)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		h.writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
