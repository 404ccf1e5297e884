package lightning

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mintln"

const (
	strategyDirect = "direct"
	strategyJIT    = "jit"

	resultPaid     = "paid"
	resultFailed   = "failed"
	resultPending  = "pending"
	resultRejected = "rejected"
	resultInvalid  = "invalid"
)

// Metrics records adapter activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	invoicesCreated *prometheus.CounterVec
	invoiceFailures prometheus.Counter
	payments        *prometheus.CounterVec
	pollsPerPayment prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invoicesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invoices_created_total",
			Help:      "Invoices issued, by strategy.",
		}, []string{"strategy"}),
		invoiceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invoice_failures_total",
			Help:      "Invoice creation attempts the node refused.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payments_total",
			Help:      "Outbound payments, by result.",
		}, []string{"result"}),
		pollsPerPayment: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "payment_polls",
			Help:      "Status lookups needed to settle an outbound payment.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	reg.MustRegister(
		m.invoicesCreated,
		m.invoiceFailures,
		m.payments,
		m.pollsPerPayment,
	)

	return m
}

func (m *Metrics) invoiceCreated(strategy string) {
	if m == nil {
		return
	}
	m.invoicesCreated.WithLabelValues(strategy).Inc()
}

func (m *Metrics) invoiceFailed() {
	if m == nil {
		return
	}
	m.invoiceFailures.Inc()
}

func (m *Metrics) payment(result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(result).Inc()
}

func (m *Metrics) polls(n uint) {
	if m == nil {
		return
	}
	m.pollsPerPayment.Observe(float64(n))
}
