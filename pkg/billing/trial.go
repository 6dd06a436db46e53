package billing

import (
	"strings"
	"time"
)

// DefaultTrialDuration is the trial window granted at organization provisioning.
const DefaultTrialDuration = 14 * 24 * time.Hour

// TrialWindow returns the start and end of a trial beginning at now.
func TrialWindow(now time.Time, duration time.Duration) (start, end time.Time) {
	if duration <= 0 {
		duration = DefaultTrialDuration
	}
	start = now.UTC()
	return start, start.Add(duration)
}

// NewTrialSubscription builds the initial TRIAL subscription for a freshly
// provisioned organization. It carries a single implicit seat and no billing
// references.
func NewTrialSubscription(organizationID string, now time.Time, duration time.Duration) *Subscription {
	start, end := TrialWindow(now, duration)
	return &Subscription{
		OrganizationID: strings.TrimSpace(organizationID),
		PlanName:       PlanTrial,
		Status:         StatusTrialing,
		UserCount:      Seats(DefaultSubscribedSeats),
		TrialStartDate: &start,
		TrialEndDate:   &end,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

// ApplyRestriction demotes sub in place and reports whether anything changed.
// Applying the same restriction twice is a no-op.
func ApplyRestriction(sub *Subscription, r Restriction, now time.Time) bool {
	if sub == nil {
		return false
	}
	if sub.PlanName == r.Plan && sub.Status == r.Status {
		return false
	}
	sub.PlanName = r.Plan
	sub.Status = r.Status
	sub.UpdatedAt = now.UTC()
	return true
}
