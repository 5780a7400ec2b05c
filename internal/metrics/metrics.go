package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts coordinator verbs by outcome (ok or an error kind).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondhand_reservation_operations_total",
			Help: "Reservation coordinator operations by verb and outcome",
		},
		[]string{"op", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secondhand_reservation_operation_duration_seconds",
			Help:    "Reservation coordinator operation latency including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op"},
	)

	BusyRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondhand_reservation_busy_retries_total",
			Help: "Transactions retried after lock contention",
		},
		[]string{"op"},
	)

	SweepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondhand_sweep_rows_total",
			Help: "Want lists or items touched by housekeeping",
		},
		[]string{"task"}, // cleanup_abandoned, reconcile_sold
	)

	OutboxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondhand_sales_outbox_total",
			Help: "Sales records relayed to the analytics sink",
		},
		[]string{"outcome"}, // sent, failed
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secondhand_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Middleware records request latency by route template, keeping label
// cardinality bounded.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		route := c.Route().Path
		HTTPRequestDuration.WithLabelValues(
			c.Method(),
			route,
			strconv.Itoa(c.Response().StatusCode()),
		).Observe(time.Since(start).Seconds())
		return err
	}
}
