package billingcp

import (
	"context"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/cpmetrics"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/rs/zerolog/log"
)

const (
	planMetricsInterval = 30 * time.Second
	planMetricsTimeout  = 10 * time.Second
)

// PlanCounter reports how many subscriptions are on each plan.
type PlanCounter interface {
	CountByPlan(ctx context.Context) (map[billing.PlanName]int, error)
}

func runPlanMetrics(ctx context.Context, store PlanCounter) {
	ticker := time.NewTicker(planMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updatePlanGauges(store)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updatePlanGauges(store)
		}
	}
}

func updatePlanGauges(store PlanCounter) {
	ctx, cancel := context.WithTimeout(context.Background(), planMetricsTimeout)
	defer cancel()

	counts, err := store.CountByPlan(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update subscription plan metrics")
		return
	}

	known := []billing.PlanName{
		billing.PlanTrial,
		billing.PlanBasic,
		billing.PlanProfessional,
		billing.PlanEnterprise,
		billing.PlanRestricted,
	}

	seen := make(map[billing.PlanName]struct{}, len(counts))

	// Stable label set for known plans.
	for _, plan := range known {
		seen[plan] = struct{}{}
		cpmetrics.SubscriptionsByPlan.WithLabelValues(string(plan)).Set(float64(counts[plan]))
	}

	for plan, c := range counts {
		if _, ok := seen[plan]; ok {
			continue
		}
		cpmetrics.SubscriptionsByPlan.WithLabelValues(string(plan)).Set(float64(c))
	}
}
