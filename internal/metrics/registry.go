// Package metrics exposes Prometheus instrumentation for the scan pipeline
// and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry bundles all application metrics and the underlying Prometheus
// registry served at /metrics.
type Registry struct {
	registry *prometheus.Registry

	ScansStarted    prometheus.Counter
	ScansCompleted  prometheus.Counter
	EventsPublished *prometheus.CounterVec
	ItemsProcessed  *prometheus.CounterVec

	DetectionLatency prometheus.Histogram
	DetectionErrors  prometheus.Counter

	LiveSubscribers prometheus.Gauge

	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry builds the registry with process and Go runtime collectors
// plus the domain metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		ScansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wikiguard",
			Name:      "scans_started_total",
			Help:      "Number of scans started.",
		}),
		ScansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wikiguard",
			Name:      "scans_completed_total",
			Help:      "Number of scans that reached COMPLETE.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikiguard",
			Name:      "scan_events_published_total",
			Help:      "Scan events published to the live bus, by event type.",
		}, []string{"event_type"}),
		ItemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikiguard",
			Name:      "scan_items_processed_total",
			Help:      "Pages and attachments processed, by kind.",
		}, []string{"kind"}),
		DetectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wikiguard",
			Name:      "detection_latency_seconds",
			Help:      "Latency of detection engine calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		DetectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wikiguard",
			Name:      "detection_errors_total",
			Help:      "Failed detection engine calls.",
		}),
		LiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wikiguard",
			Name:      "live_subscribers",
			Help:      "Currently connected live stream subscribers.",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wikiguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		r.ScansStarted,
		r.ScansCompleted,
		r.EventsPublished,
		r.ItemsProcessed,
		r.DetectionLatency,
		r.DetectionErrors,
		r.LiveSubscribers,
		r.HTTPRequestDuration,
	)
	return r
}

// Prometheus returns the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.registry }
