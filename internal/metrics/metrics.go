package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus collectors for the ingestion pipeline.
var (
	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ingest_total",
			Help: "Ingestion attempts by outcome category",
		},
		[]string{"category"},
	)

	ForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_forward_duration_seconds",
			Help:    "Duration of upstream forwarding calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	IdentityCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_identity_cache_total",
			Help: "Identity cache lookups by result",
		},
		[]string{"result"},
	)
)

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		IngestTotal,
		ForwardDuration,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		IdentityCacheTotal,
	)
}
