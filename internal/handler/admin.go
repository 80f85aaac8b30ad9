package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/handler/views"
)

func (h *Handler) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListSessions(r.Context())
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, rows)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.AdminSessionsPage(rows, h.config.BasePath).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	doc, err := h.store.GetReport(r.Context(), id)
	if err != nil {
		slog.Error("failed to load report", "session_id", id, "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	if doc == nil {
		h.writeMessage(w, r, http.StatusNotFound, "ReportNotFound")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	if _, err := w.Write([]byte(doc.Body)); err != nil {
		slog.Warn("report write failed", "session_id", id, "error", err)
	}
}
