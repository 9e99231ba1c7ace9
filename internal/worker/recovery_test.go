package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
)

func stuckNotification(status domain.Status, retryCount int) *domain.Notification {
	n := domain.NewNotification(
		uuid.New(), uuid.New(), "email",
		map[string]any{"user_id": "u1"},
		map[string]any{"email": map[string]any{"subject": "S"}},
	)
	n.Status = status
	n.RetryCount = retryCount
	return n
}

type recoveryFixture struct {
	repo         *MockNotificationRepository
	outbox       *MockOutboxRepository
	statusOutbox *MockStatusOutboxRepository
	alerts       *MockAlertRepository
	lock         *MockProcessingLock
	recovery     *Recovery
}

func newRecoveryFixture(storeErr, cacheErr error) *recoveryFixture {
	f := &recoveryFixture{
		repo:         new(MockNotificationRepository),
		outbox:       new(MockOutboxRepository),
		statusOutbox: new(MockStatusOutboxRepository),
		alerts:       new(MockAlertRepository),
		lock:         new(MockProcessingLock),
	}
	f.recovery = NewRecovery(
		f.repo, f.outbox, f.statusOutbox, f.alerts, f.lock,
		staticHealth{err: storeErr}, staticHealth{err: cacheErr},
		testLogger(), nil,
		config.RecoveryConfig{
			PollInterval:        time.Minute,
			ProcessingThreshold: 5 * time.Minute,
			PendingThreshold:    10 * time.Minute,
			BatchSize:           100,
		},
		config.CleanupConfig{
			OutboxRetention:       24 * time.Hour,
			StatusOutboxRetention: 24 * time.Hour,
			AlertRetention:        7 * 24 * time.Hour,
		},
		5,
	)
	return f
}

// expectCleanup wires the pass-3 retention deletes.
func (f *recoveryFixture) expectCleanup() {
	f.alerts.On("DeleteResolvedBefore", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	f.statusOutbox.On("DeleteProcessedBefore", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	f.outbox.On("DeletePublishedBefore", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
}

func TestRecovery_SkipsTickWhenCacheUnhealthy(t *testing.T) {
	f := newRecoveryFixture(nil, assert.AnError)

	f.recovery.Tick(context.Background())

	f.repo.AssertNotCalled(t, "SelectStuckProcessing", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecovery_HealsGhostDelivery(t *testing.T) {
	ctx := context.Background()
	f := newRecoveryFixture(nil, nil)
	n := stuckNotification(domain.StatusProcessing, 0)

	f.repo.On("SelectStuckProcessing", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{n}, nil).Once()
	f.lock.On("Status", mock.Anything, n.ID).Return(domain.IdemDelivered, nil).Once()
	f.repo.On("ClaimTerminal", mock.Anything, n.ID, domain.StatusDelivered, mock.Anything).
		Return(true, nil).Once()
	// The heal leaves a pre-resolved audit entry, never an open incident.
	f.alerts.On("Upsert", mock.Anything, mock.MatchedBy(func(a *domain.Alert) bool {
		return a.Kind == domain.AlertGhostDelivery && a.NotificationID == n.ID && a.Resolved
	})).Return(nil).Once()
	f.repo.On("SelectStuckPending", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{}, nil).Once()
	f.expectCleanup()

	f.recovery.Tick(ctx)

	f.repo.AssertExpectations(t)
	f.alerts.AssertExpectations(t)
}

func TestRecovery_HealsFailedWithBudgetSpent(t *testing.T) {
	ctx := context.Background()
	f := newRecoveryFixture(nil, nil)
	n := stuckNotification(domain.StatusProcessing, 5)

	f.repo.On("SelectStuckProcessing", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{n}, nil).Once()
	f.lock.On("Status", mock.Anything, n.ID).Return(domain.IdemFailed, nil).Once()
	f.repo.On("ClaimTerminal", mock.Anything, n.ID, domain.StatusFailed, mock.Anything).
		Return(true, nil).Once()
	f.repo.On("SelectStuckPending", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{}, nil).Once()
	f.expectCleanup()

	f.recovery.Tick(ctx)

	f.repo.AssertExpectations(t)
	f.alerts.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRecovery_FailedWithBudgetLeftRaisesAlert(t *testing.T) {
	ctx := context.Background()
	f := newRecoveryFixture(nil, nil)
	n := stuckNotification(domain.StatusProcessing, 2)

	f.repo.On("SelectStuckProcessing", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{n}, nil).Once()
	f.lock.On("Status", mock.Anything, n.ID).Return(domain.IdemFailed, nil).Once()
	f.alerts.On("Upsert", mock.Anything, mock.MatchedBy(func(a *domain.Alert) bool {
		return a.Kind == domain.AlertStuckProcessing && a.NotificationID == n.ID
	})).Return(nil).Once()
	f.repo.On("SelectStuckPending", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{}, nil).Once()
	f.expectCleanup()

	f.recovery.Tick(ctx)

	f.alerts.AssertExpectations(t)
	f.repo.AssertNotCalled(t, "ClaimTerminal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecovery_AmbiguousCacheRaisesAlertNeverHeals(t *testing.T) {
	ctx := context.Background()
	f := newRecoveryFixture(nil, nil)
	n := stuckNotification(domain.StatusProcessing, 0)

	f.repo.On("SelectStuckProcessing", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{n}, nil).Once()
	// Record expired; nothing proves the send happened or did not.
	f.lock.On("Status", mock.Anything, n.ID).Return("", nil).Once()
	f.alerts.On("Upsert", mock.Anything, mock.MatchedBy(func(a *domain.Alert) bool {
		return a.Kind == domain.AlertStuckProcessing
	})).Return(nil).Once()
	f.repo.On("SelectStuckPending", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{}, nil).Once()
	f.expectCleanup()

	f.recovery.Tick(ctx)

	f.alerts.AssertExpectations(t)
	f.repo.AssertNotCalled(t, "ClaimTerminal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecovery_LostClaimIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newRecoveryFixture(nil, nil)
	n := stuckNotification(domain.StatusProcessing, 0)

	f.repo.On("SelectStuckProcessing", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{n}, nil).Once()
	f.lock.On("Status", mock.Anything, n.ID).Return(domain.IdemDelivered, nil).Once()
	f.repo.On("ClaimTerminal", mock.Anything, n.ID, domain.StatusDelivered, mock.Anything).
		Return(false, nil).Once()
	f.repo.On("SelectStuckPending", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{}, nil).Once()
	f.expectCleanup()

	f.recovery.Tick(ctx)

	f.alerts.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRecovery_OrphanedPendingRaisesAlert(t *testing.T) {
	ctx := context.Background()
	f := newRecoveryFixture(nil, nil)
	n := stuckNotification(domain.StatusPending, 0)

	f.repo.On("SelectStuckProcessing", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{}, nil).Once()
	f.repo.On("SelectStuckPending", mock.Anything, mock.Anything, 100).
		Return([]*domain.Notification{n}, nil).Once()
	f.alerts.On("Upsert", mock.Anything, mock.MatchedBy(func(a *domain.Alert) bool {
		return a.Kind == domain.AlertOrphanedPending && a.NotificationID == n.ID
	})).Return(nil).Once()
	f.expectCleanup()

	f.recovery.Tick(ctx)

	f.alerts.AssertExpectations(t)
}
