package billing

import (
	"strings"
	"time"
)

// Role is the billing-relevant role of an organization member.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleVerifier Role = "verifier"
	RoleBasic    Role = "basic"
)

// IsBillable reports whether users with this role consume a paid seat.
// Only admins and verifiers are billable; basic users are always free.
func (r Role) IsBillable() bool {
	switch r {
	case RoleAdmin, RoleVerifier:
		return true
	default:
		return false
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleVerifier, RoleBasic:
		return true
	default:
		return false
	}
}

// PlanName identifies the plan tier an organization is on. Exactly one plan
// is active per organization at any time.
type PlanName string

const (
	PlanTrial        PlanName = "TRIAL"
	PlanBasic        PlanName = "BASIC"
	PlanProfessional PlanName = "PROFESSIONAL"
	PlanEnterprise   PlanName = "ENTERPRISE"
	PlanRestricted   PlanName = "RESTRICTED"

	// planStarterAlias is the legacy label for BASIC.
	planStarterAlias PlanName = "STARTER"
)

// NormalizePlanName upper-cases and trims a plan label and folds the STARTER
// alias onto BASIC. Unknown labels are returned normalized but unchanged.
func NormalizePlanName(raw string) PlanName {
	p := PlanName(strings.ToUpper(strings.TrimSpace(raw)))
	if p == planStarterAlias {
		return PlanBasic
	}
	return p
}

// IsPaid reports whether the plan is one of the paid tiers.
func (p PlanName) IsPaid() bool {
	switch p {
	case PlanBasic, PlanProfessional, PlanEnterprise:
		return true
	default:
		return false
	}
}

// Status mirrors the Stripe subscription lifecycle status. It is never
// invented locally: unrecognized literals are stored as received.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
)

// NormalizeStatus lower-cases and trims a Stripe status literal.
func NormalizeStatus(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// ProrationBehavior is the Stripe proration mode used for quantity changes.
type ProrationBehavior string

const (
	ProrationAlwaysInvoice    ProrationBehavior = "always_invoice"
	ProrationNone             ProrationBehavior = "none"
	ProrationCreateProrations ProrationBehavior = "create_prorations"
)

// DefaultProrationBehavior defers the prorated amount to the next invoice.
const DefaultProrationBehavior = ProrationCreateProrations

// ParseProrationBehavior validates a proration mode. An empty value yields
// the default.
func ParseProrationBehavior(raw string) (ProrationBehavior, bool) {
	switch b := ProrationBehavior(strings.ToLower(strings.TrimSpace(raw))); b {
	case "":
		return DefaultProrationBehavior, true
	case ProrationAlwaysInvoice, ProrationNone, ProrationCreateProrations:
		return b, true
	default:
		return "", false
	}
}

// Organization is the tenant that owns a subscription and a user roster.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User holds the billing-relevant fields of an organization member.
type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	Role           Role      `json:"role"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RosterEntry is the projection of a user used for seat counting.
type RosterEntry struct {
	Role     Role `json:"role"`
	IsActive bool `json:"is_active"`
}

// Subscription is the one-per-organization billing record.
//
// UserCount is the number of seats purchased (the Stripe quantity), which is
// distinct from the number of billable users actually provisioned. A nil
// UserCount means the value was never recorded.
type Subscription struct {
	ID                   string     `json:"id"`
	OrganizationID       string     `json:"organization_id"`
	PlanName             PlanName   `json:"plan_name"`
	Status               Status     `json:"status"`
	UserCount            *int       `json:"user_count"`
	TrialStartDate       *time.Time `json:"trial_start_date,omitempty"`
	TrialEndDate         *time.Time `json:"trial_end_date,omitempty"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CancelAt             *time.Time `json:"cancel_at,omitempty"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	StripePriceID        string     `json:"stripe_price_id,omitempty"`
	LastEventAt          *time.Time `json:"last_event_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HasPaidBillingReference reports whether the subscription is an active paid
// Stripe subscription that can have its quantity changed.
func (s *Subscription) HasPaidBillingReference() bool {
	if s == nil {
		return false
	}
	return s.Status == StatusActive &&
		s.PlanName.IsPaid() &&
		strings.TrimSpace(s.StripeSubscriptionID) != ""
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	cp.UserCount = cloneIntPtr(s.UserCount)
	cp.TrialStartDate = cloneTimePtr(s.TrialStartDate)
	cp.TrialEndDate = cloneTimePtr(s.TrialEndDate)
	cp.CurrentPeriodStart = cloneTimePtr(s.CurrentPeriodStart)
	cp.CurrentPeriodEnd = cloneTimePtr(s.CurrentPeriodEnd)
	cp.CancelAt = cloneTimePtr(s.CancelAt)
	cp.LastEventAt = cloneTimePtr(s.LastEventAt)
	return &cp
}

// Seats returns a pointer to n, for populating UserCount.
func Seats(n int) *int {
	return &n
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
