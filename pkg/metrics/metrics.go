package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|locked).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// AlertsCreated counts alert records created by type.
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_alerts_created_total",
			Help: "Total number of alert records created",
		},
		[]string{"type"},
	)

	// ActiveBeacons tracks beacons currently broadcasting.
	ActiveBeacons = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusguard_active_beacons",
			Help: "Number of beacons currently active",
		},
	)

	// SweeperFailures counts background sweep errors that would otherwise be
	// visible only in logs.
	SweeperFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_sweeper_failures_total",
			Help: "Total number of background sweep failures",
		},
		[]string{"task"},
	)

	// RateLimitRejections counts requests rejected by per-action rate limits.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_rate_limit_rejections_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"action"},
	)

	// NotificationDispatches counts simulated notification dispatch runs by result.
	NotificationDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusguard_notification_dispatches_total",
			Help: "Total number of notification dispatch executions",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusguard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
