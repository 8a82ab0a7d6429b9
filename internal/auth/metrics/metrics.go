// Package metrics holds the Prometheus collectors for the auth core. All
// methods are safe on a nil *Metrics so callers can run without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codegrant"

// Outcome labels.
const (
	OutcomeSuccess = "success"
)

type Metrics struct {
	registry *prometheus.Registry

	CodesIssued        *prometheus.CounterVec // outcome
	CodesConsumed      *prometheus.CounterVec // outcome
	ReplaysDetected    prometheus.Counter
	TokensIssued       *prometheus.CounterVec // kind: access, refresh, id
	AuditDropped       *prometheus.CounterVec // reason
	HousekeepingPurged *prometheus.CounterVec // table
	InFlight           prometheus.GaugeFunc
}

// New registers collectors on a fresh registry. inFlight reports the number
// of in-flight core operations and may be nil.
func New(inFlight func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CodesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_codes_issued_total",
			Help:      "Authorization code issuance attempts by outcome.",
		}, []string{"outcome"}),
		CodesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_codes_consumed_total",
			Help:      "Authorization code consumption attempts by outcome.",
		}, []string{"outcome"}),
		ReplaysDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_code_replays_total",
			Help:      "Presentations of an already consumed authorization code.",
		}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens minted by kind.",
		}, []string{"kind"}),
		AuditDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Security audit events that were not written.",
		}, []string{"reason"}),
		HousekeepingPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeping_purged_total",
			Help:      "Rows removed by the expiry sweep.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		m.CodesIssued, m.CodesConsumed, m.ReplaysDetected, m.TokensIssued,
		m.AuditDropped, m.HousekeepingPurged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if inFlight != nil {
		m.InFlight = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_operations",
			Help:      "Core operations currently running.",
		}, inFlight)
		reg.MustRegister(m.InFlight)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CodeIssued(outcome string) {
	if m == nil {
		return
	}
	m.CodesIssued.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CodeConsumed(outcome string) {
	if m == nil {
		return
	}
	m.CodesConsumed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReplayDetected() {
	if m == nil {
		return
	}
	m.ReplaysDetected.Inc()
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) AuditEventDropped(_ string, reason string) {
	if m == nil {
		return
	}
	m.AuditDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Purged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.HousekeepingPurged.WithLabelValues(table).Add(float64(n))
}
