package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentInitTotal counts payment initialization outcomes.
	PaymentInitTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts client-initiated verification outcomes.
	PaymentVerifyTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound provider webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// ReconcileRunsTotal counts reconciliation sweeps.
	ReconcileRunsTotal prometheus.Counter
	// ReconcileRecovered counts stuck payments resolved by a sweep.
	ReconcileRecovered prometheus.Counter
	// ReconcileGap reports pending records without a provider reference seen
	// in the most recent sweep. A non-zero value means initialization failed
	// after the record was written and needs operator follow-up.
	ReconcileGap prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentInitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_init_total",
			Help:      "Count of payment initialization outcomes.",
		}, []string{"result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment verification outcomes.",
		}, []string{"result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"result"})
		ReconcileRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_runs_total",
			Help:      "Total number of reconciliation sweeps executed.",
		})
		ReconcileRecovered = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_recovered_total",
			Help:      "Stuck pending payments resolved by re-verification.",
		})
		ReconcileGap = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_gap",
			Help:      "Pending payments without a provider reference in the last sweep.",
		})

		mustRegisterCollector(reg, PaymentInitTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentInitTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileRunsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReconcileRunsTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileRecovered, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReconcileRecovered = v
			}
		})
		mustRegisterCollector(reg, ReconcileGap, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ReconcileGap = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
