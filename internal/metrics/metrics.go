// Package metrics exposes the service's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts cost-table submissions, labelled by the
	// initial routing tier.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cost_approvals",
		Name:      "submissions_total",
		Help:      "Cost table submissions by initial routing tier.",
	}, []string{"initial_role"})

	// DecisionsTotal counts reviewer decisions by decision and outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cost_approvals",
		Name:      "decisions_total",
		Help:      "Reviewer decisions by decision and outcome.",
	}, []string{"decision", "outcome"})

	// EscalationsTotal counts overdue requests escalated to the next tier.
	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cost_approvals",
		Name:      "escalations_total",
		Help:      "Overdue approval requests escalated to the next tier.",
	})

	// ExpirationsTotal counts records expired by the scheduler.
	ExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cost_approvals",
		Name:      "expirations_total",
		Help:      "Cost table records expired by the escalation sweep.",
	})

	// RemindersTotal counts deadline reminders published.
	RemindersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cost_approvals",
		Name:      "reminders_total",
		Help:      "Approval deadline reminders published.",
	})

	// SweepDuration observes escalation sweep wall time.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cost_approvals",
		Name:      "sweep_duration_seconds",
		Help:      "Escalation sweep duration.",
		Buckets:   prometheus.DefBuckets,
	})
)
