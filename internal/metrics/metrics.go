package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	alliesMetricsOnce sync.Once

	connectionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_requests_total",
			Help: "Total number of connection request attempts",
		},
		[]string{"status"},
	)

	connectionAcceptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_accepts_total",
			Help: "Total number of connection request accept attempts",
		},
		[]string{"status"},
	)

	connectionDeclinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_declines_total",
			Help: "Total number of connection request decline attempts",
		},
		[]string{"status"},
	)

	marketplaceSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_searches_total",
			Help: "Total number of marketplace browse requests, by whether any facet was active",
		},
		[]string{"filtered"},
	)

	marketplaceListingWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_listing_writes_total",
			Help: "Total number of marketplace listing create/edit/remove attempts",
		},
		[]string{"op", "status"},
	)
)

func RegisterAlliesMetrics() {
	alliesMetricsOnce.Do(func() {
		prometheus.MustRegister(
			connectionRequestsTotal,
			connectionAcceptsTotal,
			connectionDeclinesTotal,
			marketplaceSearchesTotal,
			marketplaceListingWritesTotal,
		)
	})
}

func IncConnectionRequest(status string) {
	RegisterAlliesMetrics()
	connectionRequestsTotal.WithLabelValues(status).Inc()
}

func IncConnectionAccept(status string) {
	RegisterAlliesMetrics()
	connectionAcceptsTotal.WithLabelValues(status).Inc()
}

func IncConnectionDecline(status string) {
	RegisterAlliesMetrics()
	connectionDeclinesTotal.WithLabelValues(status).Inc()
}

func IncMarketplaceSearch(filtered bool) {
	RegisterAlliesMetrics()
	label := "false"
	if filtered {
		label = "true"
	}
	marketplaceSearchesTotal.WithLabelValues(label).Inc()
}

func IncListingWrite(op, status string) {
	RegisterAlliesMetrics()
	marketplaceListingWritesTotal.WithLabelValues(op, status).Inc()
}

func StatusOf(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
