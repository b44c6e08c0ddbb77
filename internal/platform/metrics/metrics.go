// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Verifications counts verification outcomes by reason code ("ok" on
	// success).
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rx_verifications_total",
			Help: "Prescription verification attempts by outcome reason",
		},
		[]string{"reason"},
	)

	VerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rx_verify_duration_seconds",
			Help:    "Time spent verifying a scanned token",
			Buckets: prometheus.DefBuckets,
		},
	)

	PrescriptionsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rx_prescriptions_issued_total",
			Help: "Prescriptions created, split by whether they were signed at creation",
		},
		[]string{"signed"},
	)

	// Deliveries counts live pushes by event type and outcome
	// (delivered, no_session, dropped, error).
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rx_deliveries_total",
			Help: "Real-time deliveries by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	Sessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rx_ws_sessions",
			Help: "Open websocket sessions on this instance",
		},
	)
)

// Handler serves the default registry on echo.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
