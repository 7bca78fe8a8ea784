package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	bookkeepingTasksTotal *prometheus.CounterVec
	catalogCacheTotal     *prometheus.CounterVec
	submissionsTotal      *prometheus.CounterVec
	achievementsTotal     *prometheus.CounterVec
	feedClientsActive     prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors shared by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlp",
			Name:      "api_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sqlp",
			Name:      "api_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlp",
			Name:      "api_errors_total",
			Help:      "Total number of error responses.",
		}, []string{"method", "route", "status"})

		bookkeepingTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlp",
			Name:      "bookkeeping_tasks_total",
			Help:      "Bookkeeping tasks by name and outcome.",
		}, []string{"task", "outcome"})

		catalogCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlp",
			Name:      "catalog_cache_requests_total",
			Help:      "Problem catalog cache lookups by result.",
		}, []string{"result"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlp",
			Name:      "submissions_total",
			Help:      "Graded submissions by dialect and verdict.",
		}, []string{"dialect", "verdict"})

		achievementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlp",
			Name:      "achievements_unlocked_total",
			Help:      "Achievements unlocked by type.",
		}, []string{"type"})

		feedClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sqlp",
			Name:      "achievement_feed_clients",
			Help:      "Connected achievement stream clients.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			bookkeepingTasksTotal,
			catalogCacheTotal,
			submissionsTotal,
			achievementsTotal,
			feedClientsActive,
		)
	})
}

// APIRequests exposes the request counter.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the request latency histogram.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the error response counter.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// BookkeepingTasks exposes the bookkeeping task counter.
func BookkeepingTasks() *prometheus.CounterVec {
	RegisterMetrics()
	return bookkeepingTasksTotal
}

// CatalogCacheRequests exposes the catalog cache counter.
func CatalogCacheRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return catalogCacheTotal
}

// Submissions exposes the graded submission counter.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// AchievementsUnlocked exposes the achievement counter.
func AchievementsUnlocked() *prometheus.CounterVec {
	RegisterMetrics()
	return achievementsTotal
}

// FeedClientsActive exposes the achievement stream gauge.
func FeedClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return feedClientsActive
}

// MetricsHandler serves the default registry, which also holds the collectors
// the sandbox, guard and provisioner register through promauto.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		}),
	))
}
