// Package telemetry exposes Prometheus metrics for the calculator, the gRPC API and the
// refresh job.
package telemetry

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type Metrics struct {
	registry *prometheus.Registry

	nextOccurrence *prometheus.CounterVec
	rpcRequests    *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	refreshRuns    *prometheus.CounterVec
	refreshUpdated prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nextOccurrence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dosewise_next_occurrence_computations_total",
			Help: "Next-occurrence computations by outcome (found, none, error).",
		}, []string{"outcome"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dosewise_grpc_requests_total",
			Help: "Handled gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dosewise_grpc_request_duration_seconds",
			Help:    "gRPC request latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		refreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dosewise_refresh_runs_total",
			Help: "Background refresh runs by result.",
		}, []string{"result"}),
		refreshUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dosewise_refresh_schedules_updated_total",
			Help: "Schedules whose next occurrence was advanced by the refresh job.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.nextOccurrence,
		m.rpcRequests,
		m.rpcDuration,
		m.refreshRuns,
		m.refreshUpdated,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) NextOccurrenceComputed(outcome string) {
	m.nextOccurrence.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RefreshCompleted(updated int, err error) {
	if err != nil {
		m.refreshRuns.WithLabelValues("error").Inc()
	} else {
		m.refreshRuns.WithLabelValues("ok").Inc()
	}
	m.refreshUpdated.Add(float64(updated))
}

// UnaryServerInterceptor records request counts and latency per method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		method := path.Base(info.FullMethod)
		m.rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		m.rpcRequests.WithLabelValues(method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NewServer returns the HTTP server for the metrics endpoint.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
