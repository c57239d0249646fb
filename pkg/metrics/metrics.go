package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_tasks_total",
			Help: "Total number of task status transitions by status",
		},
		[]string{"status"},
	)

	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onboard_tasks",
			Help: "Number of known tasks by current status",
		},
		[]string{"status"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_rollbacks_total",
			Help: "Total number of rollbacks by result",
		},
		[]string{"result"},
	)

	// Reconciliation metrics
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboard_handler_duration_seconds",
			Help:    "Domain handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	DeclarationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onboard_declaration_duration_seconds",
			Help:    "Time taken to apply a full declaration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// Device metrics
	DeviceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_device_requests_total",
			Help: "Total number of device management API requests by method and status code",
		},
		[]string{"method", "code"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksByStatus)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(DeclarationDuration)
	prometheus.MustRegister(DeviceRequestsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
