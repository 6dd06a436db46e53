package billing

import "testing"

func TestMapStripeStatus(t *testing.T) {
	tests := []struct {
		raw        string
		tier       PlanName
		wantPlan   PlanName
		wantStatus Status
	}{
		{raw: "active", tier: PlanProfessional, wantPlan: PlanProfessional, wantStatus: StatusActive},
		{raw: "ACTIVE ", tier: PlanEnterprise, wantPlan: PlanEnterprise, wantStatus: StatusActive},
		{raw: "past_due", tier: PlanBasic, wantPlan: PlanBasic, wantStatus: StatusPastDue},
		{raw: "unpaid", tier: PlanProfessional, wantPlan: PlanRestricted, wantStatus: StatusUnpaid},
		{raw: "canceled", tier: PlanEnterprise, wantPlan: PlanRestricted, wantStatus: StatusCanceled},
		{raw: "trialing", tier: PlanProfessional, wantPlan: PlanProfessional, wantStatus: StatusTrialing},
		{raw: "incomplete", tier: PlanBasic, wantPlan: PlanBasic, wantStatus: StatusIncomplete},
		{raw: "paused", tier: PlanBasic, wantPlan: PlanBasic, wantStatus: StatusPaused},
		{raw: "active", tier: PlanTrial, wantPlan: PlanBasic, wantStatus: StatusActive},
		{raw: "active", tier: "", wantPlan: PlanBasic, wantStatus: StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.raw+"/"+string(tt.tier), func(t *testing.T) {
			plan, status := MapStripeStatus(tt.raw, tt.tier)
			if plan != tt.wantPlan || status != tt.wantStatus {
				t.Fatalf("MapStripeStatus(%q, %q) = (%q, %q), want (%q, %q)",
					tt.raw, tt.tier, plan, status, tt.wantPlan, tt.wantStatus)
			}
		})
	}
}

func TestNormalizePlanName(t *testing.T) {
	cases := map[string]PlanName{
		"starter":       PlanBasic,
		" Professional": PlanProfessional,
		"enterprise":    PlanEnterprise,
		"restricted":    PlanRestricted,
		"gold":          PlanName("GOLD"),
	}
	for raw, want := range cases {
		if got := NormalizePlanName(raw); got != want {
			t.Fatalf("NormalizePlanName(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestRoleIsBillable(t *testing.T) {
	if !RoleAdmin.IsBillable() || !RoleVerifier.IsBillable() {
		t.Fatal("admins and verifiers must be billable")
	}
	if RoleBasic.IsBillable() || Role("guest").IsBillable() {
		t.Fatal("basic and unknown roles must not be billable")
	}
	if Role("guest").Valid() {
		t.Fatal("unknown role reported as valid")
	}
}

func TestSubscriptionClone(t *testing.T) {
	end := evalNow
	sub := &Subscription{UserCount: Seats(3), CurrentPeriodEnd: &end}
	cp := sub.Clone()
	*cp.UserCount = 9
	*cp.CurrentPeriodEnd = end.Add(1)
	if *sub.UserCount != 3 || !sub.CurrentPeriodEnd.Equal(evalNow) {
		t.Fatal("Clone must not alias pointer fields")
	}
	var none *Subscription
	if none.Clone() != nil {
		t.Fatal("Clone of nil must be nil")
	}
}

func TestHasPaidBillingReference(t *testing.T) {
	if !(&Subscription{Status: StatusActive, PlanName: PlanBasic, StripeSubscriptionID: "sub_1"}).HasPaidBillingReference() {
		t.Fatal("active paid subscription with a stripe id should be billable")
	}
	if (&Subscription{Status: StatusTrialing, PlanName: PlanTrial, StripeSubscriptionID: "sub_1"}).HasPaidBillingReference() {
		t.Fatal("trial must not count as a paid billing reference")
	}
	if (&Subscription{Status: StatusActive, PlanName: PlanBasic}).HasPaidBillingReference() {
		t.Fatal("missing stripe id must not count as a paid billing reference")
	}
}
