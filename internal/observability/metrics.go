package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	realtimeSubscribers *prometheus.GaugeVec
	chatMessagesTotal   *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	outboxEventsTotal   *prometheus.CounterVec
	pushDeliveriesTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unigigs_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unigigs_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unigigs_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		realtimeSubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unigigs_realtime_subscribers",
			Help: "Live realtime subscriptions per feed.",
		}, []string{"feed"})

		chatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unigigs_chat_messages_total",
			Help: "Chat messages accepted, by transport.",
		}, []string{"transport"})

		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unigigs_notifications_total",
			Help: "Notifications materialised, by type.",
		}, []string{"type"})

		outboxEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unigigs_outbox_events_total",
			Help: "Outbox event outcomes.",
		}, []string{"outcome"})

		pushDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unigigs_notification_deliveries_total",
			Help: "Out-of-band notification deliveries, by channel and outcome.",
		}, []string{"channel", "outcome"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			realtimeSubscribers,
			chatMessagesTotal,
			notificationsTotal,
			outboxEventsTotal,
			pushDeliveriesTotal,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the error response counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// RealtimeSubscribers exposes the live subscription gauge.
func RealtimeSubscribers() *prometheus.GaugeVec {
	RegisterMetrics()
	return realtimeSubscribers
}

// ChatMessages exposes the chat message counter.
func ChatMessages() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesTotal
}

// Notifications exposes the notification counter.
func Notifications() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

// OutboxEvents exposes the outbox outcome counter.
func OutboxEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return outboxEventsTotal
}

// Deliveries exposes the push/email delivery counter.
func Deliveries() *prometheus.CounterVec {
	RegisterMetrics()
	return pushDeliveriesTotal
}
