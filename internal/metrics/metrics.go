package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bakery"

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, which keeps constructors in tests short.
type Metrics struct {
	checkoutBuilds       *prometheus.CounterVec
	paymentVerifications *prometheus.CounterVec
	ledgerRPCDuration    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkoutBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_builds_total",
			Help:      "Checkout transactions built, segmented by result.",
		}, []string{"result"}),
		paymentVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verifications_total",
			Help:      "Payment verification steps, segmented by resulting status.",
		}, []string{"status"}),
		ledgerRPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_rpc_duration_seconds",
			Help:      "Latency of ledger JSON-RPC calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	if reg != nil {
		reg.MustRegister(m.checkoutBuilds, m.paymentVerifications, m.ledgerRPCDuration)
	}

	return m
}

func (m *Metrics) CheckoutBuilt(result string) {
	if m == nil {
		return
	}
	m.checkoutBuilds.WithLabelValues(result).Inc()
}

func (m *Metrics) PaymentVerified(status string) {
	if m == nil {
		return
	}
	m.paymentVerifications.WithLabelValues(status).Inc()
}

// ObserveLedgerCall records the time elapsed since start for an RPC method.
func (m *Metrics) ObserveLedgerCall(method string, start time.Time) {
	if m == nil {
		return
	}
	m.ledgerRPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
