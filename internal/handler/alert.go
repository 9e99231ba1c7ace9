package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/herald-one/herald/internal/domain"
)

// AlertHandler exposes the open-alert queue for admin triage.
type AlertHandler struct {
	alerts domain.AlertRepository
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(alerts domain.AlertRepository) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// RegisterRoutes registers alert routes
func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListOpen)
	r.Post("/{id}/resolve", h.Resolve)
}

// ListOpen returns unresolved alerts, newest first.
func (h *AlertHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	alerts, err := h.alerts.ListOpen(r.Context(), limit)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, alerts)
}

// Resolve marks one alert as handled.
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid alert ID", nil)
		return
	}

	if err := h.alerts.Resolve(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"message": "alert resolved",
	})
}
