package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	m.PolicyBypass("assets")
	m.AuditEntry("assets", "INSERT")
	m.AuditArchived(3)
	m.RecalcDegraded("asset_depreciation")
	m.JobFinished("succeeded", 1)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PolicyBypass("assets")
	m.PolicyBypass("assets")
	m.AuditEntry("assets", "UPDATE")
	m.AuditArchived(5)
	m.AuditArchived(0)
	m.RecomputeRows("assets", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PolicyBypassTotal.WithLabelValues("assets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEntriesTotal.WithLabelValues("assets", "UPDATE")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.AuditArchivedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecomputeRowsTotal.WithLabelValues("assets")))
}
