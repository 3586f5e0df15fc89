package vault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crestline-fi/vaultcore/internal/types"
)

// Metrics instruments the vault's entrypoints.
type Metrics struct {
	batches       *prometheus.CounterVec
	operations    *prometheus.CounterVec
	batchDuration prometheus.Histogram
	flashLoans    *prometheus.CounterVec
	flashDuration prometheus.Histogram
}

// NewMetrics registers vault metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultcore",
			Name:      "batches_total",
			Help:      "Batches executed, by outcome",
		}, []string{"outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultcore",
			Name:      "operations_total",
			Help:      "Operations in committed batches, by kind",
		}, []string{"kind"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vaultcore",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of batch execution including settlement",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultcore",
			Name:      "flash_loans_total",
			Help:      "Flash loans, by outcome",
		}, []string{"outcome"}),
		flashDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vaultcore",
			Name:      "flash_loan_duration_seconds",
			Help:      "Wall time of flash loans including the borrower callback",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.batches, m.operations, m.batchDuration, m.flashLoans, m.flashDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "rejected"
	}
	return "committed"
}

// ObserveBatch records one top-level batch call.
func (m *Metrics) ObserveBatch(ops []types.Operation, err error, d time.Duration) {
	m.batches.WithLabelValues(outcomeLabel(err)).Inc()
	m.batchDuration.Observe(d.Seconds())
	if err == nil {
		for _, op := range ops {
			m.operations.WithLabelValues(string(op.Kind)).Inc()
		}
	}
}

// ObserveFlashLoan records one flash-loan call.
func (m *Metrics) ObserveFlashLoan(err error, d time.Duration) {
	m.flashLoans.WithLabelValues(outcomeLabel(err)).Inc()
	m.flashDuration.Observe(d.Seconds())
}
