package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// EventOutcome records how a webhook delivery was handled.
type EventOutcome string

const (
	EventOutcomeApplied    EventOutcome = "applied"
	EventOutcomeIgnored    EventOutcome = "ignored"
	EventOutcomeStale      EventOutcome = "stale"
	EventOutcomeUnresolved EventOutcome = "unresolved"
	EventOutcomeFailed     EventOutcome = "failed"
)

// BillingEvent is the audit row written for every processed Stripe delivery.
type BillingEvent struct {
	ID             string       `json:"id"`
	StripeEventID  string       `json:"stripe_event_id"`
	Type           string       `json:"type"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Outcome        EventOutcome `json:"outcome"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// Store persists organizations, users, subscriptions and billing events.
//
// Getters return (nil, nil) when the record does not exist.
type Store interface {
	// CreateOrganizationWithTrial inserts the organization and its initial
	// subscription atomically.
	CreateOrganizationWithTrial(ctx context.Context, org *billing.Organization, sub *billing.Subscription) error
	GetOrganization(ctx context.Context, id string) (*billing.Organization, error)

	CreateUser(ctx context.Context, u *billing.User) error
	GetUser(ctx context.Context, id string) (*billing.User, error)
	// ListRoster returns the role and activity flag of every member of the
	// organization, active or not.
	ListRoster(ctx context.Context, organizationID string) ([]billing.RosterEntry, error)

	GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*billing.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*billing.Subscription, error)
	// UpsertSubscription inserts or replaces the subscription keyed by
	// organization ID. sub.ID is populated from the stored row.
	UpsertSubscription(ctx context.Context, sub *billing.Subscription) error
	UpdateSubscriptionQuantity(ctx context.Context, organizationID string, userCount int, at time.Time) error
	// RestrictSubscription applies r unless the subscription is already
	// RESTRICTED, reporting whether a row changed.
	RestrictSubscription(ctx context.Context, organizationID string, r billing.Restriction, at time.Time) (bool, error)
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*billing.Subscription, error)
	ListLapsedCancellations(ctx context.Context, now time.Time) ([]*billing.Subscription, error)
	CountByPlan(ctx context.Context) (map[billing.PlanName]int, error)

	RecordEvent(ctx context.Context, ev *BillingEvent) error

	Ping(ctx context.Context) error
	Close() error
}

// NewID returns a random identifier for organizations, users and subscriptions.
func NewID() string {
	return uuid.NewString()
}

func prepareEvent(ev *BillingEvent) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
}

func prepareSubscription(sub *billing.Subscription, now time.Time) {
	if sub.ID == "" {
		sub.ID = NewID()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	sub.PlanName = billing.NormalizePlanName(string(sub.PlanName))
	sub.OrganizationID = strings.TrimSpace(sub.OrganizationID)
}

func prepareUser(u *billing.User, now time.Time) {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
}

// trialDurationSeconds backs the trial-end fallback in SQL filters.
var trialDurationSeconds = int64(billing.DefaultTrialDuration / time.Second)
