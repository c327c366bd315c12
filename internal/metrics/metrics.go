package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Terminal publish outcomes partitioned by outcome and failure reason
	PublishOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramflow_publish_outcomes_total",
			Help: "Publish executions by terminal outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	// Triggers handed to the worker pool
	TriggersFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gramflow_triggers_fired_total",
			Help: "Number of scheduled triggers dispatched for execution",
		},
	)

	// Triggers found past the grace window
	TriggersMisfired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gramflow_triggers_misfired_total",
			Help: "Number of triggers skipped because they were due outside the grace window",
		},
	)

	// Executions currently holding a worker slot
	ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gramflow_executions_inflight",
			Help: "Number of publish executions currently running",
		},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gramflow_execution_duration_seconds",
			Help:    "Duration of publish executions in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// Jobs left in running longer than the stale threshold
	StaleRunningJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gramflow_stale_running_jobs",
			Help: "Number of jobs stuck in running beyond the stale threshold",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramflow_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gramflow_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// HTTP records request counts and latencies. Labels use the matched route
// template to keep cardinality low.
func HTTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		status := c.Response().StatusCode()

		httpRequestsTotal.WithLabelValues(c.Method(), route, statusClass(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
