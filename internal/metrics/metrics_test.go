package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CheckoutBuilt("ok")
	m.CheckoutBuilt("ok")
	m.CheckoutBuilt("validation")
	m.PaymentVerified("VALIDATED")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkoutBuilds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkoutBuilds.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentVerifications.WithLabelValues("VALIDATED")))

	m.ObserveLedgerCall("getLatestBlockhash", time.Now())
	count, err := testutil.GatherAndCount(reg, "bakery_ledger_rpc_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CheckoutBuilt("ok")
		m.PaymentVerified("FOUND")
		m.ObserveLedgerCall("getHealth", time.Now())
	})
}
