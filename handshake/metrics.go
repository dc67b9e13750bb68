package handshake

import "github.com/prometheus/client_golang/prometheus"

const (
	phaseChannel = "channel"
	phaseSession = "session"
	phaseRenew   = "renew"

	resultOK           = "ok"
	resultError        = "error"
	resultDecryptError = "decrypt_failed"
	resultUnauthorized = "unauthorized"
)

// Metrics holds the orchestrator's Prometheus counters.
type Metrics struct {
	Phases  *prometheus.CounterVec
	Invokes *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironlink",
			Name:      "handshake_phase_total",
			Help:      "Handshake phase attempts by phase and result.",
		}, []string{"phase", "result"}),
		Invokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironlink",
			Name:      "invoke_total",
			Help:      "Encrypted application calls by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Phases, m.Invokes)
	}
	return m
}

func (m *Metrics) phase(phase, result string) {
	if m != nil {
		m.Phases.WithLabelValues(phase, result).Inc()
	}
}

func (m *Metrics) invoke(result string) {
	if m != nil {
		m.Invokes.WithLabelValues(result).Inc()
	}
}
