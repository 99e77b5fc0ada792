package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts settlement commands and reports reconciliation drift.
// A nil *LedgerMetrics is a valid no-op recorder.
type LedgerMetrics struct {
	commands *prometheus.CounterVec
	retries  *prometheus.CounterVec
	drift    *prometheus.GaugeVec
}

// NewLedgerMetrics registers the collectors against registerer, falling back
// to the default registerer when nil.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commands_total",
		Help: "Settlement commands by operation and outcome.",
	}, []string{"op", "outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Transactions retried after a concurrency conflict.",
	}, []string{"op"})
	drift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_reconcile_drift",
		Help: "Findings of the last reconciliation run by check.",
	}, []string{"check"})
	registerer.MustRegister(commands, retries, drift)
	return &LedgerMetrics{commands: commands, retries: retries, drift: drift}
}

// ObserveCommand counts a finished command.
func (m *LedgerMetrics) ObserveCommand(op, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op, outcome).Inc()
}

// ObserveRetry counts one retried attempt of op.
func (m *LedgerMetrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// SetDrift publishes the number of findings of one reconciliation check.
func (m *LedgerMetrics) SetDrift(check string, findings int) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(check).Set(float64(findings))
}
