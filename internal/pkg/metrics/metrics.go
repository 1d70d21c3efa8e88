// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"datahub.migas.id/clearinghouse/internal/integrity"
)

const namespace = "clearinghouse"

var (
	// AuditRecordsAppended counts rows appended to each audit hash chain.
	AuditRecordsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "records_appended_total",
			Help:      "Total audit records appended per chain",
		},
		[]string{"chain"},
	)

	// StatusTransitions counts accepted lifecycle transitions.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "status_transitions_total",
			Help:      "Accepted status transitions per chain",
		},
		[]string{"chain", "from", "to"},
	)

	// TransitionRejections counts transitions refused by the state machine.
	TransitionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "transition_rejections_total",
			Help:      "Status transitions rejected as invalid",
		},
		[]string{"chain"},
	)

	// ChainVerifications counts verification runs by result (valid, broken, error).
	ChainVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "verifications_total",
			Help:      "Hash chain verification runs by result",
		},
		[]string{"chain", "result"},
	)

	// ChainVerifiedRecords is the number of records checked by the last run.
	ChainVerifiedRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "verified_records",
			Help:      "Records checked by the most recent verification run",
		},
		[]string{"chain"},
	)

	// LicenseUsageRecorded counts accepted metered usage by metric.
	LicenseUsageRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "usage_recorded_total",
			Help:      "Metered license usage accepted, summed quantity",
		},
		[]string{"metric"},
	)

	// LicenseUsageRejected counts usage refused because a limit would be exceeded.
	LicenseUsageRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "usage_rejected_total",
			Help:      "Metered usage rejected by limit enforcement",
		},
		[]string{"metric"},
	)

	// LicenseActivations counts activation attempts by result.
	LicenseActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "activations_total",
			Help:      "License activation attempts by result",
		},
		[]string{"result"},
	)

	// SweptRecords counts rows changed by maintenance sweeps.
	SweptRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "swept_records_total",
			Help:      "Records transitioned by periodic sweeps",
		},
		[]string{"sweep"},
	)

	// EventsPublished counts lifecycle events pushed to the event stream.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lifecycle events published by result",
		},
		[]string{"result"},
	)

	// HTTPRequests counts API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks API latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// GinMiddleware records request count and latency keyed by the matched route
// template, never the raw path, to keep label cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveVerification records the outcome of one chain verification run.
func ObserveVerification(chain string, report integrity.Report, err error) {
	switch {
	case err != nil:
		ChainVerifications.WithLabelValues(chain, "error").Inc()
		return
	case report.Valid:
		ChainVerifications.WithLabelValues(chain, "valid").Inc()
	default:
		ChainVerifications.WithLabelValues(chain, "broken").Inc()
	}
	ChainVerifiedRecords.WithLabelValues(chain).Set(float64(report.Checked))
}
