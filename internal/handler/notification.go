package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/service"
)

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	ingest   *service.IngestService
	repo     domain.NotificationRepository
	validate *validator.Validate
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(ingest *service.IngestService, repo domain.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{
		ingest:   ingest,
		repo:     repo,
		validate: validator.New(),
	}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Submit)
	r.Post("/batch", h.SubmitBatch)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.Post("/{id}/retry", h.Retry)
}

// SubmitNotificationRequest carries one recipient fanned out over channels.
type SubmitNotificationRequest struct {
	RequestID   uuid.UUID         `json:"request_id" validate:"required"`
	ClientID    uuid.UUID         `json:"client_id" validate:"required"`
	Channel     []string          `json:"channel" validate:"required,min=1,dive,required"`
	Recipient   map[string]any    `json:"recipient" validate:"required"`
	Content     map[string]any    `json:"content" validate:"required"`
	Variables   map[string]string `json:"variables,omitempty"`
	WebhookURL  string            `json:"webhook_url,omitempty" validate:"omitempty,url"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	Provider    *string           `json:"provider,omitempty"`
}

// AcceptedResponse acknowledges an asynchronous submission.
type AcceptedResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Submit accepts one notification request. Delivery is asynchronous; the 202
// only means the request and its outbox entries are durably committed.
func (h *NotificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitNotificationRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	count, err := h.ingest.Submit(r.Context(), service.SubmitRequest{
		RequestID:   req.RequestID,
		ClientID:    req.ClientID,
		Channels:    req.Channel,
		Recipient:   req.Recipient,
		Content:     req.Content,
		Variables:   req.Variables,
		WebhookURL:  req.WebhookURL,
		ScheduledAt: req.ScheduledAt,
		Provider:    req.Provider,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusAccepted, AcceptedResponse{
		Message: "accepted",
		Count:   count,
	})
}

// BatchRecipientRequest is one recipient inside a batch submission.
type BatchRecipientRequest struct {
	RequestID uuid.UUID      `json:"request_id" validate:"required"`
	Recipient map[string]any `json:"recipient" validate:"required"`
}

// BatchSubmitRequest fans recipients out over channels.
type BatchSubmitRequest struct {
	ClientID    uuid.UUID               `json:"client_id" validate:"required"`
	Channel     []string                `json:"channel" validate:"required,min=1,dive,required"`
	Recipients  []BatchRecipientRequest `json:"recipients" validate:"required,min=1,max=1000,dive"`
	Content     map[string]any          `json:"content" validate:"required"`
	Variables   map[string]string       `json:"variables,omitempty"`
	WebhookURL  string                  `json:"webhook_url,omitempty" validate:"omitempty,url"`
	ScheduledAt *time.Time              `json:"scheduled_at,omitempty"`
	Provider    *string                 `json:"provider,omitempty"`
}

// SubmitBatch accepts a batch submission. The batch commits atomically.
func (h *NotificationHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchSubmitRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	recipients := make([]service.BatchRecipient, 0, len(req.Recipients))
	for _, rec := range req.Recipients {
		recipients = append(recipients, service.BatchRecipient{
			RequestID: rec.RequestID,
			Recipient: rec.Recipient,
		})
	}

	count, err := h.ingest.SubmitBatch(r.Context(), service.BatchSubmitRequest{
		ClientID:    req.ClientID,
		Channels:    req.Channel,
		Recipients:  recipients,
		Content:     req.Content,
		Variables:   req.Variables,
		WebhookURL:  req.WebhookURL,
		ScheduledAt: req.ScheduledAt,
		Provider:    req.Provider,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusAccepted, AcceptedResponse{
		Message: "accepted",
		Count:   count,
	})
}

// GetByID returns one notification.
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}

	notification, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, notification)
}

// List returns a filtered, paginated notification listing.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.NotificationFilter{
		Page:     1,
		PageSize: 20,
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.Status(s)
		if !status.IsValid() {
			JSONError(w, http.StatusBadRequest, "INVALID_STATUS", "Invalid status filter", nil)
			return
		}
		filter.Status = &status
	}
	if c := r.URL.Query().Get("channel"); c != "" {
		filter.Channel = &c
	}
	if c := r.URL.Query().Get("client_id"); c != "" {
		clientID, err := uuid.Parse(c)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "INVALID_CLIENT_ID", "Invalid client_id filter", nil)
			return
		}
		filter.ClientID = &clientID
	}
	if p := r.URL.Query().Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			filter.PageSize = pageSize
		}
	}

	result, err := h.repo.List(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, result)
}

// Retry resets a failed notification back to pending with a fresh outbox
// entry. Conflicts for anything not in failed.
func (h *NotificationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}

	if err := h.repo.ResetForRetry(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusAccepted, map[string]string{
		"message": "retry scheduled",
	})
}
