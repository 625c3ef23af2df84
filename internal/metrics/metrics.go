// Package metrics provides Prometheus metrics collection for validation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JonMunkholm/validata/internal/report"
)

// Collector holds all Prometheus metrics for the validator.
type Collector struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	RunsInFlight prometheus.Gauge

	// Validation metrics
	RowsProcessed    prometheus.Counter
	ValidationErrors *prometheus.CounterVec

	// Resolution metrics
	FetchedBytes       *prometheus.CounterVec
	ResolutionFailures *prometheus.CounterVec
}

// New creates a collector registered on its own registry, so several
// collectors can coexist in one process.
func New() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a collector registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,

		// Run metrics
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "validata",
				Name:      "runs_total",
				Help:      "Total number of validation runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "validata",
				Name:      "run_duration_seconds",
				Help:      "Validation run duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "validata",
				Name:      "runs_in_flight",
				Help:      "Number of validation runs currently executing",
			},
		),

		// Validation metrics
		RowsProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "validata",
				Name:      "rows_processed_total",
				Help:      "Total number of data rows validated",
			},
		),
		ValidationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "validata",
				Name:      "validation_errors_total",
				Help:      "Total number of report entries by kind and severity",
			},
			[]string{"kind", "severity"},
		),

		// Resolution metrics
		FetchedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "validata",
				Name:      "fetched_bytes_total",
				Help:      "Total bytes read from remote sources",
			},
			[]string{"target"},
		),
		ResolutionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "validata",
				Name:      "resolution_failures_total",
				Help:      "Total number of schema or data resolution failures",
			},
			[]string{"stage", "kind"},
		),
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveReport records the outcome of a finished run. A nil collector
// records nothing.
func (c *Collector) ObserveReport(r *report.Report, seconds float64) {
	if c == nil {
		return
	}
	status := string(r.Status)
	c.RunsTotal.WithLabelValues(status).Inc()
	c.RunDuration.WithLabelValues(status).Observe(seconds)
	c.RowsProcessed.Add(float64(r.Counts.Rows))
	for _, e := range r.Errors {
		c.ValidationErrors.WithLabelValues(string(e.Kind), string(e.Severity)).Inc()
	}
	if r.Failure != nil {
		c.ResolutionFailures.WithLabelValues(r.Failure.Stage, r.Failure.Kind).Inc()
	}
}

// ObserveAborted records a run that ended without a report. A nil
// collector records nothing.
func (c *Collector) ObserveAborted(seconds float64) {
	if c == nil {
		return
	}
	c.RunsTotal.WithLabelValues("aborted").Inc()
	c.RunDuration.WithLabelValues("aborted").Observe(seconds)
}

// AddFetched counts bytes read for target ("schema", "data" or
// "reference").
func (c *Collector) AddFetched(target string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.FetchedBytes.WithLabelValues(target).Add(float64(n))
}

// WriteTextfile dumps the current metrics in the node exporter textfile
// format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
