package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the generation pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	narrativesTotal prometheus.Counter
	llmDuration     prometheus.Observer
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_run_duration_seconds",
		Help:    "Duration of complete report generation runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"outcome"})

	runTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_runs_total",
		Help: "Total report generation runs by outcome",
	}, []string{"outcome"})

	narrativesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "narratives_generated_total",
		Help: "Total individual student narratives generated",
	})

	llmDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_request_duration_seconds",
		Help:    "Latency of model calls for a single narrative",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, runDuration, runTotal, narrativesTotal, llmDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		runDuration:     runDuration,
		runTotal:        runTotal,
		narrativesTotal: narrativesTotal,
		llmDuration:     llmDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveGenerationRun records the outcome and duration of one run.
func (m *MetricsService) ObserveGenerationRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.runTotal.WithLabelValues(outcome).Inc()
}

// ObserveNarrative records one successful model call.
func (m *MetricsService) ObserveNarrative(duration time.Duration) {
	if m == nil {
		return
	}
	m.narrativesTotal.Inc()
	m.llmDuration.Observe(duration.Seconds())
}
