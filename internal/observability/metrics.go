package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allies_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allies_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	auditEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allies_audit_events_published_total",
			Help: "Total number of audit events published.",
		},
		[]string{"event_name"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "allies_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	feedSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "allies_feed_subscriptions",
			Help: "Number of live change-feed subscriptions.",
		},
	)
	feedEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allies_feed_events_dropped_total",
			Help: "Change-feed events dropped because a subscriber queue was full.",
		},
		[]string{"collection"},
	)
	streamSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "allies_stream_sessions",
			Help: "Number of open connection stream websockets.",
		},
	)
	metricsOnce sync.Once
)

func InitMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			auditEventsPublishedTotal,
			amqpPublishErrorsTotal,
			feedSubscriptions,
			feedEventsDroppedTotal,
			streamSessions,
		)
	})
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func IncAuditEventPublished(eventName string) {
	if eventName == "" {
		eventName = "unknown"
	}
	auditEventsPublishedTotal.WithLabelValues(eventName).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func SetFeedSubscriptions(n int) {
	feedSubscriptions.Set(float64(n))
}

func IncFeedEventsDropped(collection string) {
	feedEventsDroppedTotal.WithLabelValues(collection).Inc()
}

func IncStreamSessions() { streamSessions.Inc() }

func DecStreamSessions() { streamSessions.Dec() }
