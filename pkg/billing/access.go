package billing

import (
	"math"
	"time"
)

// Access denial reasons surfaced to callers.
const (
	ReasonNoSubscription      = "No subscription found"
	ReasonTrialExpired        = "Trial expired - subscription required"
	ReasonSubscriptionEnded   = "Subscription canceled - billing period has ended"
	ReasonRestricted          = "Subscription restricted - payment required"
	ReasonInactive            = "Subscription is not active"
	ReasonUnverified          = "Unable to verify subscription"
	ReasonCanceledGraceActive = "Subscription canceled - access continues until the end of the billing period"
)

// TrialEnd returns the effective trial end. Rows that lack an explicit end
// fall back to the trial start, then the creation time, plus the default
// trial duration, so a trial is never open-ended.
func TrialEnd(sub *Subscription) (time.Time, bool) {
	if sub == nil {
		return time.Time{}, false
	}
	switch {
	case sub.TrialEndDate != nil:
		return *sub.TrialEndDate, true
	case sub.TrialStartDate != nil:
		return sub.TrialStartDate.Add(DefaultTrialDuration), true
	case !sub.CreatedAt.IsZero():
		return sub.CreatedAt.Add(DefaultTrialDuration), true
	default:
		return time.Time{}, false
	}
}

// IsExpired applies the expiry decision table:
//
//	canceled, no period end        -> expired
//	canceled, now after period end -> expired
//	canceled, now within period    -> not expired (grace)
//	active (any cancel flag)       -> not expired
//	trialing, trial end <= now     -> expired
//	trialing, trial end > now      -> not expired
//	anything else                  -> expired
func IsExpired(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return true
	}
	switch sub.Status {
	case StatusActive:
		return false
	case StatusCanceled:
		if sub.CurrentPeriodEnd == nil {
			return true
		}
		return now.After(*sub.CurrentPeriodEnd)
	case StatusTrialing:
		end, ok := TrialEnd(sub)
		if !ok {
			return true
		}
		return !end.After(now)
	default:
		return true
	}
}

// Restriction describes the local transition owed by an expired subscription.
type Restriction struct {
	Plan   PlanName
	Status Status
}

// AccessDecision is the result of evaluating a subscription at a point in time.
type AccessDecision struct {
	HasAccess bool   `json:"hasAccess"`
	Expired   bool   `json:"expired"`
	InTrial   bool   `json:"isInTrial"`
	Reason    string `json:"reason,omitempty"`

	// Restrict is non-nil when the subscription must be demoted to RESTRICTED.
	Restrict *Restriction `json:"-"`
}

// EvaluateAccess decides whether the organization owning sub has access at
// now. Access is granted to active paid plans, unexpired trials, and canceled
// paid plans still inside their paid-through period.
func EvaluateAccess(sub *Subscription, now time.Time) AccessDecision {
	if sub == nil {
		return AccessDecision{Expired: true, Reason: ReasonNoSubscription}
	}

	expired := IsExpired(sub, now)
	d := AccessDecision{Expired: expired}

	switch {
	case sub.Status == StatusActive && sub.PlanName.IsPaid():
		d.HasAccess = true
	case sub.Status == StatusTrialing && sub.PlanName == PlanTrial && !expired:
		d.HasAccess = true
		d.InTrial = true
	case sub.Status == StatusCanceled && sub.PlanName.IsPaid() && !expired:
		d.HasAccess = true
		d.Reason = ReasonCanceledGraceActive
	}
	if d.HasAccess {
		return d
	}

	d.Reason, d.Restrict = denialFor(sub, now, expired)
	return d
}

func denialFor(sub *Subscription, now time.Time, expired bool) (string, *Restriction) {
	if sub.PlanName == PlanRestricted {
		return ReasonRestricted, nil
	}
	switch sub.Status {
	case StatusTrialing:
		if expired {
			return ReasonTrialExpired, &Restriction{Plan: PlanRestricted, Status: StatusUnpaid}
		}
	case StatusCanceled, StatusUnpaid:
		if periodElapsed(sub, now) {
			return ReasonSubscriptionEnded, &Restriction{Plan: PlanRestricted, Status: sub.Status}
		}
	}
	if sub.PlanName == PlanTrial && expired {
		return ReasonTrialExpired, nil
	}
	return ReasonInactive, nil
}

// periodElapsed reports whether the paid-through period is over. A missing
// period end counts as elapsed.
func periodElapsed(sub *Subscription, now time.Time) bool {
	if sub.CurrentPeriodEnd == nil {
		return true
	}
	return now.After(*sub.CurrentPeriodEnd)
}

// TrialDaysRemaining returns the whole days (rounded up) left in a trial, or 0
// when the subscription is not trialing or the trial has ended.
func TrialDaysRemaining(sub *Subscription, now time.Time) int {
	if sub == nil || sub.Status != StatusTrialing {
		return 0
	}
	end, ok := TrialEnd(sub)
	if !ok || !end.After(now) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}
