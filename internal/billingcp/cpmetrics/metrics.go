package cpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionsByPlan tracks the number of subscriptions on each plan.
	SubscriptionsByPlan = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "billing",
		Subsystem: "cp",
		Name:      "subscriptions_by_plan",
		Help:      "Number of subscriptions by plan.",
	}, []string{"plan"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Subsystem: "cp",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "billing",
		Subsystem: "cp",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SeatUpgradesTotal counts add-user seat decisions by outcome.
	SeatUpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Subsystem: "cp",
		Name:      "seat_upgrades_total",
		Help:      "Seat upgrade decisions by outcome (no_upgrade, upgraded, blocked, failed).",
	}, []string{"outcome"})

	// QuantityMutationsTotal counts Stripe quantity mutations by outcome.
	QuantityMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Subsystem: "cp",
		Name:      "quantity_mutations_total",
		Help:      "Subscription quantity mutations by outcome.",
	}, []string{"outcome"})

	// AccessChecksTotal counts access evaluations by result.
	AccessChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Subsystem: "cp",
		Name:      "access_checks_total",
		Help:      "Access evaluations by result (granted, denied, unverified).",
	}, []string{"result"})

	// RestrictionsTotal counts RESTRICTED transitions by trigger.
	RestrictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Subsystem: "cp",
		Name:      "restrictions_total",
		Help:      "Subscriptions moved to RESTRICTED by trigger (access_check, sweeper).",
	}, []string{"trigger"})
)
