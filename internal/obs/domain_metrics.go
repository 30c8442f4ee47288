package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutInitTotal counts hosted checkout creation attempts.
	CheckoutInitTotal *prometheus.CounterVec
	// PaymentVerificationTotal counts verification outcomes per trigger (verify redirect or notify webhook).
	PaymentVerificationTotal *prometheus.CounterVec
	// ProviderRequestDuration records provider API latency in milliseconds.
	ProviderRequestDuration *prometheus.HistogramVec
	// WebhookAuthFailures counts webhooks rejected by the shared-secret check.
	WebhookAuthFailures *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutInitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_init_total",
			Help:      "Count of checkout creation outcomes.",
		}, []string{"variant", "result"})
		PaymentVerificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verification_total",
			Help:      "Count of payment verification outcomes.",
		}, []string{"variant", "trigger", "outcome"})
		ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_ms",
			Help:      "Latency of payment provider API calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"operation", "result"})
		WebhookAuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_auth_failures_total",
			Help:      "Count of webhooks rejected by authentication.",
		}, []string{"reason"})

		mustRegisterCollector(reg, CheckoutInitTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutInitTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerificationTotal = v
			}
		})
		mustRegisterCollector(reg, ProviderRequestDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProviderRequestDuration = v
			}
		})
		mustRegisterCollector(reg, WebhookAuthFailures, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookAuthFailures = v
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
		panic(fmt.Errorf("register metric: %w", err))
	}
}
