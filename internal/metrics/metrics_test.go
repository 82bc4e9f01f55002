package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of a gathered counter carrying the label.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Resolved(true)
	m.Resolved(false)
	m.Resolved(false)
	m.Imported("CaseReport")
	m.ImportFinished(nil)
	m.ImportFinished(errors.New("boom"))
	m.Cloned("AnalyticalResult", "regenerate")
	m.Refreshed("VALID")
	m.Observe("amend", time.Now())

	assert.Equal(t, 1.0, counterValue(t, reg, "tse_report_rule_resolutions_total", "outcome", "hit"))
	assert.Equal(t, 2.0, counterValue(t, reg, "tse_report_rule_resolutions_total", "outcome", "miss"))
	assert.Equal(t, 1.0, counterValue(t, reg, "tse_report_imports_total", "outcome", "failure"))
	assert.Equal(t, 1.0, counterValue(t, reg, "tse_report_cloned_records_total", "mode", "regenerate"))
	assert.Equal(t, 1.0, counterValue(t, reg, "tse_report_status_refreshes_total", "status", "VALID"))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Resolved(true)
		m.Imported("Report")
		m.ImportFinished(nil)
		m.Cloned("Report", "verbatim")
		m.Refreshed("DRAFT")
		m.Observe("copy", time.Now())
	})
}
