package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Application metrics
	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiruna_services_total",
			Help: "Number of services in the active application",
		},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiruna_containers_total",
			Help: "Number of managed containers by state",
		},
		[]string{"state"},
	)

	RolloutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiruna_rollouts_total",
			Help: "Number of application rollouts triggered by config changes",
		},
	)

	RolloutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiruna_rollout_duration_seconds",
			Help:    "Time from config change to completed application launch",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Health watch metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiruna_health_checks_total",
			Help: "Health probe results by outcome",
		},
		[]string{"result"},
	)

	ContainerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiruna_container_restarts_total",
			Help: "Containers replaced after failure, by service",
		},
		[]string{"service"},
	)

	// Registry metrics
	RegistryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiruna_registry_writes_total",
			Help: "Endpoint registry writes by outcome",
		},
		[]string{"result"},
	)

	// Janitor metrics
	ContainersReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiruna_containers_reaped_total",
			Help: "Obsolete containers stopped and removed by cleanup",
		},
	)

	ImagesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiruna_images_removed_total",
			Help: "Old image tags removed by cleanup",
		},
	)
)

func init() {
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(RolloutsTotal)
	prometheus.MustRegister(RolloutDuration)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(ContainerRestartsTotal)
	prometheus.MustRegister(RegistryWritesTotal)
	prometheus.MustRegister(ContainersReapedTotal)
	prometheus.MustRegister(ImagesRemovedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
