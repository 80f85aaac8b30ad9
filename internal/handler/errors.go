package handler

import (
	"errors"
	"log/slog"
	"net/http"

	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/session"
)

type errorResponse struct {
	Error   string               `json:"error"`
	Message string               `json:"message"`
	Fields  []session.FieldError `json:"fields,omitempty"`
}

var errorStatus = []struct {
	err    error
	status int
	msgID  string
}{
	{session.ErrNotFound, http.StatusNotFound, "SessionNotFound"},
	{session.ErrNoSkipCredits, http.StatusConflict, "NoSkipCredits"},
	{session.ErrSessionClosed, http.StatusConflict, "SessionClosed"},
	{session.ErrWrongPhase, http.StatusConflict, "WrongPhase"},
	{session.ErrNothingSkipped, http.StatusConflict, "NothingSkipped"},
	{session.ErrInvalidQuestion, http.StatusBadRequest, "InvalidQuestion"},
	{session.ErrInvalidAnswerKind, http.StatusBadRequest, "InvalidAnswerKind"},
}

// writeError maps err onto a status code and a localized message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *session.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "ValidationFailed",
			Message: appI18n.T(r.Context(), "ValidationFailed"),
			Fields:  verr.Fields,
		})
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			h.writeMessage(w, r, e.status, e.msgID)
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	h.writeMessage(w, r, http.StatusInternalServerError, "InternalError")
}

func (h *Handler) writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: msgID, Message: appI18n.T(r.Context(), msgID)})
}
