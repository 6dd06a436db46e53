// Package usercount counts the billable members of an organization.
package usercount

import (
	"context"
	"strings"

	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/rs/zerolog/log"
)

// FallbackWarning is attached to results computed without the roster.
const FallbackWarning = "User count unavailable; showing a default of one billable user"

// RosterSource lists organization members.
type RosterSource interface {
	ListRoster(ctx context.Context, organizationID string) ([]billing.RosterEntry, error)
}

// SubscriptionSource is optionally implemented by a RosterSource. When it
// is, pricing uses the per-seat rate of the organization's Stripe price.
type SubscriptionSource interface {
	GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error)
}

// Result is the billable head count of an organization.
type Result struct {
	UserCount     int             `json:"userCount"`
	AdminCount    int             `json:"adminCount"`
	VerifierCount int             `json:"verifierCount"`
	Pricing       billing.Pricing `json:"pricing"`
	Fallback      bool            `json:"fallback,omitempty"`
	Warning       string          `json:"warning,omitempty"`
}

// Counter computes Results from the roster.
type Counter struct {
	roster RosterSource
	prices billing.PriceTableSource
}

// New returns a Counter. prices may be nil, in which case the default seat
// price applies.
func New(roster RosterSource, prices billing.PriceTableSource) *Counter {
	if prices == nil {
		prices = billing.DefaultPriceTable()
	}
	return &Counter{roster: roster, prices: prices}
}

// Count returns the number of admins and verifiers in the organization.
// Activity is not considered: a deactivated admin still holds a seat.
func (c *Counter) Count(ctx context.Context, organizationID string) (*Result, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, cperrors.InvalidInput("count_users", "organization id is required")
	}

	roster, err := c.roster.ListRoster(ctx, organizationID)
	if err != nil {
		return nil, cperrors.StaleData("count_users", err)
	}

	var admins, verifiers int
	for _, member := range roster {
		switch member.Role {
		case billing.RoleAdmin:
			admins++
		case billing.RoleVerifier:
			verifiers++
		}
	}
	return c.result(c.seatPrice(ctx, organizationID), admins, verifiers), nil
}

// CountOrFallback is Count for read paths: when the roster is unavailable it
// returns a single billable user flagged as a fallback instead of failing.
func (c *Counter) CountOrFallback(ctx context.Context, organizationID string) (*Result, error) {
	res, err := c.Count(ctx, organizationID)
	if err == nil {
		return res, nil
	}
	if cperrors.KindOf(err) != cperrors.KindStaleData {
		return nil, err
	}

	log.Warn().Err(err).Str("organization_id", organizationID).Msg("Falling back to default billable user count")
	res = c.result(c.seatPrice(ctx, organizationID), 1, 0)
	res.Fallback = true
	res.Warning = FallbackWarning
	return res, nil
}

func (c *Counter) seatPrice(ctx context.Context, organizationID string) int64 {
	var priceID string
	if subs, ok := c.roster.(SubscriptionSource); ok {
		sub, err := subs.GetSubscriptionByOrganization(ctx, organizationID)
		if err != nil {
			log.Warn().Err(err).Str("organization_id", organizationID).Msg("Pricing user count at the default seat price")
		} else if sub != nil {
			priceID = sub.StripePriceID
		}
	}
	return c.prices.PriceTable().SeatPrice(priceID)
}

func (c *Counter) result(price int64, admins, verifiers int) *Result {
	pricing := billing.ComputePricing(admins, verifiers, price)
	return &Result{
		UserCount:     pricing.Breakdown.BillableUsers,
		AdminCount:    admins,
		VerifierCount: verifiers,
		Pricing:       pricing,
	}
}
