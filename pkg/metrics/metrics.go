// Package metrics defines the Prometheus collectors for the data layer.
// A nil *Metrics is valid and records nothing, so packages can be used
// without a registry in tests and tools.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fmcore"

// Metrics holds every collector the data layer reports to.
type Metrics struct {
	PolicyBypassTotal      *prometheus.CounterVec
	TenantViolationsTotal  *prometheus.CounterVec
	StaleWritesTotal       *prometheus.CounterVec
	WriteFailuresTotal     *prometheus.CounterVec
	AuditEntriesTotal      *prometheus.CounterVec
	AuditArchivedTotal     prometheus.Counter
	HistoryVersionsTotal   *prometheus.CounterVec
	RecalcDegradedTotal    *prometheus.CounterVec
	RecomputeRowsTotal     *prometheus.CounterVec
	JobsFinishedTotal      *prometheus.CounterVec
	JobDurationSeconds     prometheus.Histogram
	TenantActivationsTotal *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PolicyBypassTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_bypass_total",
			Help:      "Statements executed with tenant filtering bypassed",
		}, []string{"table"}),
		TenantViolationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_violations_total",
			Help:      "Writes rejected because they named a foreign tenant",
		}, []string{"table"}),
		StaleWritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_writes_total",
			Help:      "Writes rejected by the optimistic version check",
		}, []string{"table"}),
		WriteFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Writes rolled back because a hook or statement failed",
		}, []string{"table", "stage"}),
		AuditEntriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Audit entries appended",
		}, []string{"table", "operation"}),
		AuditArchivedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_archived_total",
			Help:      "Audit entries moved to the archive table",
		}),
		HistoryVersionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_versions_total",
			Help:      "Historical versions appended",
		}, []string{"table"}),
		RecalcDegradedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalc_degraded_total",
			Help:      "Derived-field recalculations skipped because of missing inputs",
		}, []string{"rule"}),
		RecomputeRowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recompute_rows_total",
			Help:      "Rows rewritten by batch recomputation",
		}, []string{"table"}),
		JobsFinishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Recompute jobs finished, by terminal state",
		}, []string{"state"}),
		JobDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of recompute jobs",
			Buckets:   prometheus.DefBuckets,
		}),
		TenantActivationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_activations_total",
			Help:      "Tenant activations by outcome",
		}, []string{"outcome"}),
	}
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) PolicyBypass(table string) {
	if m == nil {
		return
	}
	m.PolicyBypassTotal.WithLabelValues(table).Inc()
}

func (m *Metrics) TenantViolation(table string) {
	if m == nil {
		return
	}
	m.TenantViolationsTotal.WithLabelValues(table).Inc()
}

func (m *Metrics) StaleWrite(table string) {
	if m == nil {
		return
	}
	m.StaleWritesTotal.WithLabelValues(table).Inc()
}

func (m *Metrics) WriteFailure(table, stage string) {
	if m == nil {
		return
	}
	m.WriteFailuresTotal.WithLabelValues(table, stage).Inc()
}

func (m *Metrics) AuditEntry(table, operation string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(table, operation).Inc()
}

func (m *Metrics) AuditArchived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditArchivedTotal.Add(float64(n))
}

func (m *Metrics) HistoryVersion(table string) {
	if m == nil {
		return
	}
	m.HistoryVersionsTotal.WithLabelValues(table).Inc()
}

func (m *Metrics) RecalcDegraded(rule string) {
	if m == nil {
		return
	}
	m.RecalcDegradedTotal.WithLabelValues(rule).Inc()
}

func (m *Metrics) RecomputeRows(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RecomputeRowsTotal.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) JobFinished(state string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsFinishedTotal.WithLabelValues(state).Inc()
	m.JobDurationSeconds.Observe(seconds)
}

func (m *Metrics) TenantActivation(outcome string) {
	if m == nil {
		return
	}
	m.TenantActivationsTotal.WithLabelValues(outcome).Inc()
}
