// Package metrics exposes the engine's prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	registry *prometheus.Registry

	actions        *prometheus.CounterVec
	autosaves      *prometheus.CounterVec
	autosaveFields prometheus.Counter
	fieldsCleared  prometheus.Counter
	guardShared    *prometheus.CounterVec
	pricing        *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	requests       *prometheus.HistogramVec
	schemaReloads  *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_wizard_actions_total",
			Help: "Wizard actions by type and whether the current phase accepted them.",
		}, []string{"action", "result"}),
		autosaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_autosave_flushes_total",
			Help: "Autosave writes by result.",
		}, []string{"result"}),
		autosaveFields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filing_autosave_fields_total",
			Help: "Answers written by autosave.",
		}),
		fieldsCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filing_fields_cleared_total",
			Help: "Answers removed because the question they belong to became hidden.",
		}),
		guardShared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_guard_shared_total",
			Help: "Duplicate in-flight creations that shared the first call's result.",
		}, []string{"operation"}),
		pricing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_pricing_calculations_total",
			Help: "Price calculations by mode.",
		}, []string{"mode"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_submissions_total",
			Help: "Filing submissions by filing type and result.",
		}, []string{"filing_type", "result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filing_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		schemaReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_schema_reloads_total",
			Help: "Schema directory reloads by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.actions, m.autosaves, m.autosaveFields, m.fieldsCleared, m.guardShared,
		m.pricing, m.submissions, m.requests, m.schemaReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is the gatherer the /metrics endpoint serves.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Action(action string, applied bool) {
	if m == nil {
		return
	}
	outcome := "applied"
	if !applied {
		outcome = "ignored"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Autosave(fields int, err error) {
	if m == nil {
		return
	}
	m.autosaves.WithLabelValues(result(err == nil)).Inc()
	if err == nil {
		m.autosaveFields.Add(float64(fields))
	}
}

func (m *Metrics) FieldsCleared(n int) {
	if m == nil || n == 0 {
		return
	}
	m.fieldsCleared.Add(float64(n))
}

func (m *Metrics) GuardShared(operation string) {
	if m == nil {
		return
	}
	m.guardShared.WithLabelValues(operation).Inc()
}

func (m *Metrics) Pricing(mode string) {
	if m == nil {
		return
	}
	m.pricing.WithLabelValues(mode).Inc()
}

func (m *Metrics) Submission(filingType string, err error) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(filingType, result(err == nil)).Inc()
}

func (m *Metrics) Request(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, statusClass(status)).Observe(d.Seconds())
}

func (m *Metrics) SchemaReload(err error) {
	if m == nil {
		return
	}
	m.schemaReloads.WithLabelValues(result(err == nil)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
