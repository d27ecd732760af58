package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	webhookEventsTotal     *prometheus.CounterVec
	providerRequestsTotal  *prometheus.CounterVec
	providerRetriesTotal   prometheus.Counter
	providerLatency        *prometheus.HistogramVec
	tokenRefreshesTotal    *prometheus.CounterVec
	ledgerAdjustmentsTotal *prometheus.CounterVec
	commissionClampsTotal  *prometheus.CounterVec
	notificationFailures   prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketpay",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Provider callbacks by event kind and outcome.",
			},
			[]string{"event", "outcome"},
		),
		providerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketpay",
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Provider API calls by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		),
		providerRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "marketpay",
				Subsystem: "provider",
				Name:      "retries_total",
				Help:      "Provider attempts repeated after a timeout or 5xx.",
			},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "marketpay",
				Subsystem: "provider",
				Name:      "request_duration_seconds",
				Help:      "Latency of individual provider HTTP attempts.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		tokenRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketpay",
				Subsystem: "provider",
				Name:      "token_refreshes_total",
				Help:      "Provider token fetches by result.",
			},
			[]string{"result"},
		),
		ledgerAdjustmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketpay",
				Subsystem: "ledger",
				Name:      "adjustments_total",
				Help:      "Balance adjustments by direction and result.",
			},
			[]string{"direction", "result"},
		),
		commissionClampsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketpay",
				Subsystem: "commission",
				Name:      "clamps_total",
				Help:      "Fee reversals floored at zero, by currency.",
			},
			[]string{"currency"},
		),
		notificationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "marketpay",
				Subsystem: "notifier",
				Name:      "failures_total",
				Help:      "Ledger events that could not be delivered.",
			},
		),
	}
}

func (m *Metrics) ObserveWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveProviderAttempt(endpoint string, started time.Time) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveProviderRequest(endpoint string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerRequestsTotal.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) ObserveProviderRetry() {
	if m == nil {
		return
	}
	m.providerRetriesTotal.Inc()
}

func (m *Metrics) ObserveTokenRefresh(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenRefreshesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLedgerAdjustment(direction string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.ledgerAdjustmentsTotal.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) ObserveCommissionClamp(currency string) {
	if m == nil {
		return
	}
	m.commissionClampsTotal.WithLabelValues(currency).Inc()
}

func (m *Metrics) ObserveNotificationFailure() {
	if m == nil {
		return
	}
	m.notificationFailures.Inc()
}
