package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/metrics"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Recovery is the reconciliation cron. It heals notifications whose store
// state fell behind the cache record and raises alerts for states it cannot
// decide safely. It never re-sends: ambiguous states are a human's call.
type Recovery struct {
	repo         domain.NotificationRepository
	outbox       domain.OutboxRepository
	statusOutbox domain.StatusOutboxRepository
	alerts       domain.AlertRepository
	lock         domain.ProcessingLock
	store        HealthChecker
	cache        HealthChecker
	logger       *slog.Logger
	metrics      *metrics.Metrics

	cfg      config.RecoveryConfig
	cleanup  config.CleanupConfig
	maxRetry int

	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

// NewRecovery creates the recovery cron.
func NewRecovery(
	repo domain.NotificationRepository,
	outbox domain.OutboxRepository,
	statusOutbox domain.StatusOutboxRepository,
	alerts domain.AlertRepository,
	lock domain.ProcessingLock,
	store, cache HealthChecker,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg config.RecoveryConfig,
	cleanup config.CleanupConfig,
	maxRetry int,
) *Recovery {
	return &Recovery{
		repo:         repo,
		outbox:       outbox,
		statusOutbox: statusOutbox,
		alerts:       alerts,
		lock:         lock,
		store:        store,
		cache:        cache,
		logger:       logger,
		metrics:      m,
		cfg:          cfg,
		cleanup:      cleanup,
		maxRetry:     maxRetry,
	}
}

// Start launches the cron loop.
func (r *Recovery) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	ctx, r.cancelFunc = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()

	r.logger.Info("recovery cron started", "poll_interval", r.cfg.PollInterval)
	return nil
}

// Stop halts the cron and waits for the in-flight tick.
func (r *Recovery) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.wg.Wait()
	r.logger.Info("recovery cron stopped")
}

// Tick runs one full recovery cycle. Skipped entirely unless both store and
// cache answer a health check: reconciling against an unreachable cache would
// misread every record as absent.
func (r *Recovery) Tick(ctx context.Context) {
	if err := r.store.Health(ctx); err != nil {
		r.logger.Warn("skipping recovery tick, store unhealthy", "error", err)
		return
	}
	if err := r.cache.Health(ctx); err != nil {
		r.logger.Warn("skipping recovery tick, cache unhealthy", "error", err)
		return
	}

	if err := r.reconcileStuckProcessing(ctx); err != nil {
		r.logger.Error("stuck-processing pass failed", "error", err)
	}
	if err := r.flagOrphanedPending(ctx); err != nil {
		r.logger.Error("orphaned-pending pass failed", "error", err)
	}
	r.runCleanup(ctx)
}

// reconcileStuckProcessing compares each stale processing row against the
// cache record. Cache says delivered: the store missed the transition, heal
// it. Cache says failed with the retry budget spent: fail it. Anything else
// is ambiguous and only raises an alert.
func (r *Recovery) reconcileStuckProcessing(ctx context.Context) error {
	olderThan := time.Now().Add(-r.cfg.ProcessingThreshold)
	stuck, err := r.repo.SelectStuckProcessing(ctx, olderThan, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to select stuck processing: %w", err)
	}

	for _, n := range stuck {
		cacheStatus, err := r.lock.Status(ctx, n.ID)
		if err != nil {
			r.logger.Error("failed to read cache record", "notification_id", n.ID, "error", err)
			r.raiseAlert(ctx, n, domain.AlertRecoveryError, "cache record unreadable", "")
			continue
		}

		switch {
		case cacheStatus == domain.IdemDelivered:
			r.heal(ctx, n, domain.StatusDelivered, "recovered ghost delivery", cacheStatus)
		case cacheStatus == domain.IdemFailed && n.RetryCount >= r.maxRetry:
			r.heal(ctx, n, domain.StatusFailed, "recovered after retry budget exhausted", cacheStatus)
		default:
			// failed-with-budget-left, still processing, or no record at all.
			// Re-sending here could double-deliver, so leave it to an admin.
			r.raiseAlert(ctx, n, domain.AlertStuckProcessing, "processing past threshold", cacheStatus)
		}
	}

	return nil
}

// heal compare-and-sets the notification terminal and stages a status-outbox
// entry in the same transaction. Losing the claim means another writer
// already resolved the row; nothing to do.
func (r *Recovery) heal(ctx context.Context, n *domain.Notification, status domain.Status, message, cacheStatus string) {
	claimed, err := r.repo.ClaimTerminal(ctx, n.ID, status, message)
	if err != nil {
		r.logger.Error("failed to claim terminal state", "notification_id", n.ID, "error", err)
		r.raiseAlert(ctx, n, domain.AlertRecoveryError, "terminal claim failed", cacheStatus)
		return
	}
	if !claimed {
		r.logger.Info("terminal claim lost, row already resolved", "notification_id", n.ID)
		return
	}

	if status == domain.StatusDelivered {
		r.recordGhostDelivery(ctx, n, cacheStatus)
	}

	r.metrics.RecordRecoveryAction("heal_" + string(status))
	r.logger.Info("healed stuck notification",
		"notification_id", n.ID,
		"status", status,
		"cache_status", cacheStatus,
	)
}

// recordGhostDelivery leaves a pre-resolved audit alert for a healed ghost
// delivery. The incident needed no admin action but stays visible in the
// alert history. Best-effort: the heal itself already committed.
func (r *Recovery) recordGhostDelivery(ctx context.Context, n *domain.Notification, cacheStatus string) {
	alert := &domain.Alert{
		NotificationID: n.ID,
		Kind:           domain.AlertGhostDelivery,
		Reason:         "store missed the delivered transition",
		CacheStatus:    cacheStatus,
		StoreStatus:    domain.StatusDelivered,
		RetryCount:     n.RetryCount,
		Resolved:       true,
	}
	if err := r.alerts.Upsert(ctx, alert); err != nil {
		r.logger.Error("failed to record ghost delivery audit", "notification_id", n.ID, "error", err)
	}
}

// flagOrphanedPending alerts on pending rows past the threshold. Pending
// means the outbox never published, usually a stopped publisher or cleanup
// racing ingest; re-publishing blindly is not safe from here.
func (r *Recovery) flagOrphanedPending(ctx context.Context) error {
	olderThan := time.Now().Add(-r.cfg.PendingThreshold)
	orphaned, err := r.repo.SelectStuckPending(ctx, olderThan, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to select stuck pending: %w", err)
	}

	for _, n := range orphaned {
		r.raiseAlert(ctx, n, domain.AlertOrphanedPending, "pending past threshold", "")
	}
	return nil
}

func (r *Recovery) raiseAlert(ctx context.Context, n *domain.Notification, kind domain.AlertKind, reason, cacheStatus string) {
	alert := &domain.Alert{
		NotificationID: n.ID,
		Kind:           kind,
		Reason:         reason,
		CacheStatus:    cacheStatus,
		StoreStatus:    n.Status,
		RetryCount:     n.RetryCount,
	}
	if err := r.alerts.Upsert(ctx, alert); err != nil {
		r.logger.Error("failed to upsert alert", "notification_id", n.ID, "kind", kind, "error", err)
		return
	}
	r.metrics.RecordRecoveryAction("alert_" + string(kind))
	r.logger.Warn("alert raised",
		"notification_id", n.ID,
		"kind", kind,
		"reason", reason,
		"cache_status", cacheStatus,
	)
}

// runCleanup trims rows past their retention windows. Failures only log; the
// next tick tries again.
func (r *Recovery) runCleanup(ctx context.Context) {
	now := time.Now()

	if n, err := r.alerts.DeleteResolvedBefore(ctx, now.Add(-r.cleanup.AlertRetention)); err != nil {
		r.logger.Error("alert cleanup failed", "error", err)
	} else if n > 0 {
		r.metrics.RecordRecoveryAction("cleanup_alerts")
		r.logger.Info("cleaned resolved alerts", "deleted", n)
	}

	if n, err := r.statusOutbox.DeleteProcessedBefore(ctx, now.Add(-r.cleanup.StatusOutboxRetention)); err != nil {
		r.logger.Error("status outbox cleanup failed", "error", err)
	} else if n > 0 {
		r.metrics.RecordRecoveryAction("cleanup_status_outbox")
		r.logger.Info("cleaned status outbox", "deleted", n)
	}

	if n, err := r.outbox.DeletePublishedBefore(ctx, now.Add(-r.cleanup.OutboxRetention)); err != nil {
		r.logger.Error("outbox cleanup failed", "error", err)
	} else if n > 0 {
		r.metrics.RecordRecoveryAction("cleanup_outbox")
		r.logger.Info("cleaned outbox", "deleted", n)
	}
}
