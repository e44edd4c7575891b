package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aip_registry_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)

	AgentsRegistered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aip_registry_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_registry_searches_total",
			Help: "Total agent searches",
		},
		[]string{"kind"},
	)

	ReviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_registry_reviews_total",
			Help: "Total reviews submitted",
		},
		[]string{"rating"},
	)

	RecalcTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_registry_reputation_recalc_total",
			Help: "Total reputation recalculations",
		},
		[]string{"trigger", "status"},
	)

	RecalcDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aip_registry_reputation_recalc_duration_seconds",
			Help:    "Reputation recalculation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	OverallScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aip_registry_reputation_overall_score",
			Help:    "Distribution of computed overall reputation scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_registry_webhook_deliveries_total",
			Help: "Total webhook delivery attempts",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_registry_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_registry_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AgentsRegistered)
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(ReviewsTotal)
	prometheus.MustRegister(RecalcTotal)
	prometheus.MustRegister(RecalcDuration)
	prometheus.MustRegister(OverallScore)
	prometheus.MustRegister(WebhookDeliveries)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
