// README: Prometheus metrics for the realtime coordinator and HTTP surface.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	LocationReportsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fretlink_location_reports_total",
			Help: "Total number of driver location reports received",
		},
	)

	SampledWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fretlink_location_sampled_writes_total",
			Help: "Sampled durable location writes by outcome",
		},
		[]string{"outcome"},
	)

	RealtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fretlink_realtime_events_total",
			Help: "Inbound realtime events by name and outcome",
		},
		[]string{"event", "outcome"},
	)

	OutboundDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fretlink_realtime_deliveries_total",
			Help: "Outbound targeted deliveries by event and path (live, outbox, push, dropped)",
		},
		[]string{"event", "path"},
	)

	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fretlink_realtime_connections",
			Help: "Currently open realtime connections",
		},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fretlink_order_transitions_total",
			Help: "Applied order status transitions by target status",
		},
		[]string{"to"},
	)

	SessionsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fretlink_sessions_evicted_total",
			Help: "Order sessions evicted after reaching a terminal status",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fretlink_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fretlink_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(LocationReportsTotal)
		prometheus.MustRegister(SampledWritesTotal)
		prometheus.MustRegister(RealtimeEventsTotal)
		prometheus.MustRegister(OutboundDeliveriesTotal)
		prometheus.MustRegister(LiveConnections)
		prometheus.MustRegister(OrderTransitionsTotal)
		prometheus.MustRegister(SessionsEvictedTotal)
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
