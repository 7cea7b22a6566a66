// Package metrics exposes the Prometheus instrumentation for the
// notification core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors used across the daemon. Constructed
// once at startup and passed by reference.
type Metrics struct {
	DispatchAttempts *prometheus.CounterVec
	DispatchOutcomes *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	RetriesScheduled prometheus.Counter
	RetryExhausted   prometheus.Counter
}

// New registers the collectors on the supplied registerer. Passing nil
// uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DispatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_dispatch_attempts_total",
			Help: "Channel attempts by channel and result.",
		}, []string{"channel", "result"}),
		DispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_dispatch_outcomes_total",
			Help: "Dispatch outcomes by winning channel, or 'none' on exhaustion.",
		}, []string{"winning_channel"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_webhook_events_total",
			Help: "Inbound webhook events by type and handling result.",
		}, []string{"event_type", "result"}),
		RetriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_retries_scheduled_total",
			Help: "Same-channel retries scheduled.",
		}),
		RetryExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_retry_exhausted_total",
			Help: "Channels that exhausted their retry budget.",
		}),
	}
}
