// Package metrics exposes Prometheus metrics for the secrets service on
// a dedicated listener, kept off the API port so scrapes never compete
// with secret traffic.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

var (
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sealedGauge     prometheus.Gauge
	unsealProgress  prometheus.Gauge

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// InitMetrics registers all Prometheus collectors. Safe to call more
// than once; only the first call registers.
func InitMetrics() {
	metricsOnce.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretscore_requests_total",
				Help: "Total number of logical requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		)

		requestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretscore_request_duration_seconds",
				Help:    "Duration of logical requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		)

		sealedGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "secretscore_sealed",
				Help: "Whether the barrier is sealed (1=sealed, 0=unsealed)",
			},
		)

		unsealProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "secretscore_unseal_progress",
				Help: "Number of unseal shares accumulated toward the threshold",
			},
		)

		metricsRegistered.Store(true)
	})
}

// RecordRequest records one logical request.
func RecordRequest(operation, outcome string, seconds float64) {
	if !metricsRegistered.Load() {
		return
	}
	requestsTotal.WithLabelValues(operation, outcome).Inc()
	requestDuration.WithLabelValues(operation).Observe(seconds)
}

// SetSealed publishes the barrier's seal state.
func SetSealed(sealed bool) {
	if !metricsRegistered.Load() {
		return
	}
	if sealed {
		sealedGauge.Set(1)
	} else {
		sealedGauge.Set(0)
	}
}

// SetUnsealProgress publishes the accumulated share count.
func SetUnsealProgress(progress int) {
	if !metricsRegistered.Load() {
		return
	}
	unsealProgress.Set(float64(progress))
}

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server on addr. The name is kept for log and
// future registry namespacing parity with other services.
func New(name, addr string) (*MetricsServer, error) {
	InitMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving scrapes until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
