package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// #region names
const (
	RequestsTotal        = "api_requests_total"
	ErrorsTotal          = "api_request_errors_total"
	PredictionsTotal     = "model_predictions_total"
	LatencySeconds       = "api_request_latency_seconds"
	PredictionConfidence = "model_prediction_confidence"
)

// ConfidenceBuckets splits the [0, 1] probability range in tenths.
var ConfidenceBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}

// #endregion names

// #region metrics
// Metrics is the process-wide observability state of the serving process.
// Handlers go through its methods; the collectors are not exported.
type Metrics struct {
	registry    *prometheus.Registry
	requests    prometheus.Counter
	errors      prometheus.Counter
	predictions prometheus.Counter
	latency     prometheus.Histogram
	confidence  prometheus.Histogram
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: RequestsTotal,
			Help: "Total API requests",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: ErrorsTotal,
			Help: "Total API errors",
		}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: PredictionsTotal,
			Help: "Total predictions served",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    LatencySeconds,
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    PredictionConfidence,
			Help:    "Max predicted class probability",
			Buckets: ConfidenceBuckets,
		}),
	}
	m.registry.MustRegister(m.requests, m.errors, m.predictions, m.latency, m.confidence)
	return m
}

// RequestReceived counts an incoming predict request.
func (m *Metrics) RequestReceived() {
	m.requests.Inc()
}

// RequestFailed counts a predict request that ended in an error response.
func (m *Metrics) RequestFailed() {
	m.errors.Inc()
}

// PredictionServed counts a successful prediction and observes its latency
// and, when present, its confidence.
func (m *Metrics) PredictionServed(latency time.Duration, confidence *float64) {
	m.predictions.Inc()
	m.latency.Observe(latency.Seconds())
	if confidence != nil {
		m.confidence.Observe(*confidence)
	}
}

// Registry exposes the registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler renders the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// #endregion metrics
