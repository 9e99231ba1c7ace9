package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the pipeline components.
type Metrics struct {
	requestsAccepted  *prometheus.CounterVec
	outboxPublished   *prometheus.CounterVec
	publishErrors     *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	deliveryLatency   *prometheus.HistogramVec
	retriesScheduled  *prometheus.CounterVec
	rateLimitDeferred *prometheus.CounterVec
	delayedDepth      prometheus.Gauge
	webhookAttempts   *prometheus.CounterVec
	recoveryActions   *prometheus.CounterVec
}

// New registers and returns the collectors.
func New() *Metrics {
	return &Metrics{
		requestsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_requests_accepted_total",
				Help: "Accepted ingest requests",
			},
			[]string{"channel"},
		),
		outboxPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_outbox_published_total",
				Help: "Outbox entries published to the bus",
			},
			[]string{"topic"},
		),
		publishErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_publish_errors_total",
				Help: "Failed bus publishes",
			},
			[]string{"topic"},
		),
		deliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_deliveries_total",
				Help: "Provider delivery outcomes",
			},
			[]string{"channel", "outcome"},
		),
		deliveryLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_delivery_latency_seconds",
				Help:    "Time from notification creation to delivered",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"channel"},
		),
		retriesScheduled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_retries_scheduled_total",
				Help: "Delayed retries enqueued",
			},
			[]string{"channel"},
		),
		rateLimitDeferred: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_rate_limit_deferred_total",
				Help: "Deliveries deferred by the channel token bucket",
			},
			[]string{"channel"},
		),
		delayedDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_delayed_queue_depth",
				Help: "Members in the delayed ordered set",
			},
		),
		webhookAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_webhook_attempts_total",
				Help: "Client webhook POST attempts",
			},
			[]string{"outcome"},
		),
		recoveryActions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_recovery_actions_total",
				Help: "Recovery cron actions",
			},
			[]string{"action"},
		),
	}
}

func (m *Metrics) RecordAccepted(channel string, count int) {
	if m == nil {
		return
	}
	m.requestsAccepted.WithLabelValues(channel).Add(float64(count))
}

func (m *Metrics) RecordPublished(topic string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordPublishError(topic string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordDelivery(channel, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) RecordDeliveryLatency(channel string, latency time.Duration) {
	if m == nil {
		return
	}
	m.deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

func (m *Metrics) RecordRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(channel).Inc()
}

func (m *Metrics) RecordRateLimitDeferred(channel string) {
	if m == nil {
		return
	}
	m.rateLimitDeferred.WithLabelValues(channel).Inc()
}

func (m *Metrics) SetDelayedDepth(depth float64) {
	if m == nil {
		return
	}
	m.delayedDepth.Set(depth)
}

func (m *Metrics) RecordWebhookAttempt(outcome string) {
	if m == nil {
		return
	}
	m.webhookAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRecoveryAction(action string) {
	if m == nil {
		return
	}
	m.recoveryActions.WithLabelValues(action).Inc()
}
