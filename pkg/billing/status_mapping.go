package billing

// MapStripeStatus maps a Stripe subscription status onto the local
// (plan, status) pair. tier is the paid tier resolved for the subscription's
// price. The literal status is always preserved.
//
//	unpaid, canceled -> RESTRICTED
//	past_due         -> tier (access decided by the grace rules)
//	active           -> tier
//	anything else    -> tier, literal status
func MapStripeStatus(rawStatus string, tier PlanName) (PlanName, Status) {
	status := NormalizeStatus(rawStatus)
	if !tier.IsPaid() {
		tier = PlanBasic
	}
	switch status {
	case StatusUnpaid, StatusCanceled:
		return PlanRestricted, status
	default:
		return tier, status
	}
}
