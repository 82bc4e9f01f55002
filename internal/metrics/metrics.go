// Package metrics exposes prometheus collectors for the report engine.
// Every method is safe on a nil *Metrics so that services can run without
// instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tse_report"

// Metrics groups the collectors of the core operations.
type Metrics struct {
	Resolutions     *prometheus.CounterVec
	ImportedRecords *prometheus.CounterVec
	Imports         *prometheus.CounterVec
	ClonedRecords   *prometheus.CounterVec
	StatusRefreshes *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_resolutions_total",
			Help:      "Default result rule lookups by outcome.",
		}, []string{"outcome"}),
		ImportedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_records_total",
			Help:      "Records persisted by dataset imports.",
		}, []string{"kind"}),
		Imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Dataset imports by outcome.",
		}, []string{"outcome"}),
		ClonedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cloned_records_total",
			Help:      "Records cloned by amend and copy.",
		}, []string{"kind", "mode"}),
		StatusRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_refreshes_total",
			Help:      "Report status refreshes by resulting status.",
		}, []string{"status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.Resolutions, m.ImportedRecords, m.Imports, m.ClonedRecords, m.StatusRefreshes, m.Duration)
	return m
}

// Resolved counts a rule lookup.
func (m *Metrics) Resolved(hit bool) {
	if m == nil {
		return
	}
	outcome := "hit"
	if !hit {
		outcome = "miss"
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

// Imported counts a record persisted by an import.
func (m *Metrics) Imported(kind string) {
	if m == nil {
		return
	}
	m.ImportedRecords.WithLabelValues(kind).Inc()
}

// ImportFinished counts a finished import.
func (m *Metrics) ImportFinished(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Imports.WithLabelValues(outcome).Inc()
}

// Cloned counts a record cloned into a new report version or copy.
func (m *Metrics) Cloned(kind, mode string) {
	if m == nil {
		return
	}
	m.ClonedRecords.WithLabelValues(kind, mode).Inc()
}

// Refreshed counts a status refresh.
func (m *Metrics) Refreshed(status string) {
	if m == nil {
		return
	}
	m.StatusRefreshes.WithLabelValues(status).Inc()
}

// Observe records the duration of an operation started at start.
func (m *Metrics) Observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
