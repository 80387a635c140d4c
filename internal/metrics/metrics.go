package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmsg_messages_total",
			Help: "Send attempts by provider, kind and outcome",
		},
		[]string{"provider", "kind", "status"}, // sent|failed
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmsg_fallbacks_total",
			Help: "Sends retried through the fallback provider",
		},
		[]string{"from", "to"},
	)

	WorkflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmsg_workflow_transitions_total",
			Help: "Transition attempts by workflow type and outcome",
		},
		[]string{"type", "outcome"}, // resolved|already_resolved|expired
	)

	WorkflowsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opsmsg_workflows_expired_total",
			Help: "Workflows expired by the sweeper",
		},
	)

	SideEffectFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmsg_side_effect_failures_total",
			Help: "Side effects that failed after a workflow resolved",
		},
		[]string{"type", "action"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmsg_webhook_events_total",
			Help: "Inbound webhook replies by handling result",
		},
		[]string{"result"}, // resolved|duplicate|expired|dropped|error
	)
)

var once sync.Once

// MustRegister registers all collectors once; serve and workers may both call it.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			MessagesTotal,
			FallbacksTotal,
			WorkflowTransitionsTotal,
			WorkflowsExpiredTotal,
			SideEffectFailuresTotal,
			WebhookEventsTotal,
		)
	})
}
