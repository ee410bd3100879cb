package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Action("NEXT_SECTION", true)
		m.Autosave(3, nil)
		m.FieldsCleared(2)
		m.GuardShared("add-spouse")
		m.Pricing("schema")
		m.Submission("INDIVIDUAL", nil)
		m.Request("/price", 200, time.Millisecond)
		m.SchemaReload(nil)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.Action("NEXT_SECTION", true)
	m.Action("NEXT_SECTION", false)
	m.Action("NEXT_SECTION", true)
	m.Autosave(4, nil)
	m.Autosave(9, errors.New("down"))
	m.Request("/price", 503, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.actions.WithLabelValues("NEXT_SECTION", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("NEXT_SECTION", "ignored")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.autosaveFields))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.autosaves.WithLabelValues("error")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "filing_http_request_duration_seconds")
	assert.Contains(t, names, "go_goroutines")
}
