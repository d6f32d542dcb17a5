package alt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records lifecycle activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Transactions    *prometheus.CounterVec
	ActivationPolls prometheus.Counter
	ActivationWait  prometheus.Histogram
	TableAddresses  prometheus.Gauge
}

// NewMetrics creates the lifecycle collectors and registers them with reg
// when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alt",
				Name:      "transactions_total",
				Help:      "Transactions submitted by the lookup table lifecycle, by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		ActivationPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alt",
			Name:      "activation_polls_total",
			Help:      "Ledger reads performed while waiting for a table to become active",
		}),
		ActivationWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alt",
			Name:      "activation_wait_seconds",
			Help:      "Time spent waiting for a table to become active",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		TableAddresses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alt",
			Name:      "table_addresses",
			Help:      "Number of addresses in the most recently activated table",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Transactions, m.ActivationPolls, m.ActivationWait, m.TableAddresses)
	}
	return m
}

func (m *Metrics) transaction(step string, err error) {
	if m == nil {
		return
	}
	outcome := "confirmed"
	if err != nil {
		outcome = "failed"
	}
	m.Transactions.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) poll() {
	if m == nil {
		return
	}
	m.ActivationPolls.Inc()
}

func (m *Metrics) activated(wait time.Duration, addresses int) {
	if m == nil {
		return
	}
	m.ActivationWait.Observe(wait.Seconds())
	m.TableAddresses.Set(float64(addresses))
}
