package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/service"
)

// MockNotificationRepository is a mock implementation of domain.NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) CreateWithOutbox(ctx context.Context, notifications []*domain.Notification, entries []*domain.OutboxEntry) error {
	args := m.Called(ctx, notifications, entries)
	return args.Error(0)
}

func (m *MockNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) List(ctx context.Context, filter domain.NotificationFilter) (*domain.NotificationListResult, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationListResult), args.Error(1)
}

func (m *MockNotificationRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationRepository) UpdateTerminal(ctx context.Context, id uuid.UUID, status domain.Status, message string) error {
	args := m.Called(ctx, id, status, message)
	return args.Error(0)
}

func (m *MockNotificationRepository) ClaimTerminal(ctx context.Context, id uuid.UUID, status domain.Status, message string) (bool, error) {
	args := m.Called(ctx, id, status, message)
	return args.Bool(0), args.Error(1)
}

func (m *MockNotificationRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationRepository) SelectStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Notification, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) SelectStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Notification, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}

func newTestRouter(repo *MockNotificationRepository) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ingest := service.NewIngestService(repo, logger, nil)
	h := NewNotificationHandler(ingest, repo)

	r := chi.NewRouter()
	r.Route("/notifications", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

func submitBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"request_id": uuid.New().String(),
		"client_id":  uuid.New().String(),
		"channel":    []string{"email", "sms"},
		"recipient":  map[string]any{"user_id": "u1", "email": "a@x.test"},
		"content":    map[string]any{"email": map[string]any{"subject": "S", "message": "M"}},
	})
	require.NoError(t, err)
	return body
}

func TestNotificationHandler_Submit(t *testing.T) {
	t.Run("accepted returns 202 with count", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		repo.On("CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewReader(submitBody(t)))
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp struct {
			Success bool             `json:"success"`
			Data    AcceptedResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 2, resp.Data.Count)
	})

	t.Run("invalid JSON returns 400", func(t *testing.T) {
		repo := new(MockNotificationRepository)

		req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing channel returns 400", func(t *testing.T) {
		repo := new(MockNotificationRepository)

		body, err := json.Marshal(map[string]any{
			"request_id": uuid.New().String(),
			"client_id":  uuid.New().String(),
			"recipient":  map[string]any{"user_id": "u1"},
			"content":    map[string]any{},
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		repo.AssertNotCalled(t, "CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate returns 409", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		repo.On("CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything).
			Return(domain.ErrDuplicateRequest).Once()

		req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewReader(submitBody(t)))
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("transaction failure returns 500", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		repo.On("CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything).
			Return(fmt.Errorf("connection reset")).Once()

		req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewReader(submitBody(t)))
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestNotificationHandler_GetByID(t *testing.T) {
	t.Run("found returns notification", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		n := domain.NewNotification(uuid.New(), uuid.New(), "email",
			map[string]any{"user_id": "u1"}, map[string]any{})
		repo.On("GetByID", mock.Anything, n.ID).Return(n, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/notifications/"+n.ID.String(), nil)
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown returns 404", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		id := uuid.New()
		repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/notifications/"+id.String(), nil)
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id returns 400", func(t *testing.T) {
		repo := new(MockNotificationRepository)

		req := httptest.NewRequest(http.MethodGet, "/notifications/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestNotificationHandler_Retry(t *testing.T) {
	t.Run("failed notification retries", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		id := uuid.New()
		repo.On("ResetForRetry", mock.Anything, id).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/notifications/"+id.String()+"/retry", nil)
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("non-failed notification conflicts", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		id := uuid.New()
		repo.On("ResetForRetry", mock.Anything, id).Return(domain.ErrNotRetryable).Once()

		req := httptest.NewRequest(http.MethodPost, "/notifications/"+id.String()+"/retry", nil)
		rec := httptest.NewRecorder()
		newTestRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
