package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/herald-one/herald/internal/domain"
)

// MockProvider is a mock implementation of domain.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Send(ctx context.Context, msg *domain.ChannelMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockProcessingLock is a mock implementation of domain.ProcessingLock
type MockProcessingLock struct {
	mock.Mock
}

func (m *MockProcessingLock) Acquire(ctx context.Context, id uuid.UUID) (domain.LockOutcome, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.LockOutcome), args.Error(1)
}

func (m *MockProcessingLock) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockProcessingLock) MarkFailed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockProcessingLock) Status(ctx context.Context, id uuid.UUID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// MockRateLimiter is a mock implementation of domain.RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	args := m.Called(ctx, channel)
	return args.Bool(0), args.Error(1)
}

// MockPublisher is a mock implementation of domain.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

// MockDelayedQueue is a mock implementation of domain.DelayedQueue
type MockDelayedQueue struct {
	mock.Mock
}

func (m *MockDelayedQueue) Add(ctx context.Context, member []byte, dueAt time.Time) error {
	args := m.Called(ctx, member, dueAt)
	return args.Error(0)
}

func (m *MockDelayedQueue) Claim(ctx context.Context, now time.Time, limit int) ([][]byte, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockDelayedQueue) Confirm(ctx context.Context, member []byte) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockDelayedQueue) Release(ctx context.Context, member []byte) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockDelayedQueue) Depth(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

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

// MockOutboxRepository is a mock implementation of domain.OutboxRepository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) ClaimBatch(ctx context.Context, workerID string, limit int, staleBefore time.Time) ([]*domain.OutboxEntry, error) {
	args := m.Called(ctx, workerID, limit, staleBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxEntry), args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockStatusOutboxRepository is a mock implementation of domain.StatusOutboxRepository
type MockStatusOutboxRepository struct {
	mock.Mock
}

func (m *MockStatusOutboxRepository) ClaimUnprocessed(ctx context.Context, workerID string, limit int) ([]*domain.StatusOutboxEntry, error) {
	args := m.Called(ctx, workerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.StatusOutboxEntry), args.Error(1)
}

func (m *MockStatusOutboxRepository) MarkProcessed(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStatusOutboxRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockAlertRepository is a mock implementation of domain.AlertRepository
type MockAlertRepository struct {
	mock.Mock
}

func (m *MockAlertRepository) Upsert(ctx context.Context, alert *domain.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockAlertRepository) Resolve(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAlertRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Alert, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Alert), args.Error(1)
}

func (m *MockAlertRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// staticHealth satisfies HealthChecker with a fixed answer.
type staticHealth struct {
	err error
}

func (h staticHealth) Health(ctx context.Context) error {
	return h.err
}
