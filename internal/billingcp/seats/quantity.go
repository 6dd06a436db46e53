// Package seats decides when adding a user needs another paid seat and
// applies seat quantity changes to Stripe and the local subscription.
package seats

import (
	"context"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/cpmetrics"
	billingstripe "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/stripe"
	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/jonboulle/clockwork"
)

// MessageInactiveSubscription guides callers that try to change the quantity
// of a trial or otherwise inactive subscription.
const MessageInactiveSubscription = "Subscription is not active. Upgrade to a paid plan before changing seats."

// Gateway reads and writes the purchased quantity in Stripe.
type Gateway interface {
	GetSubscriptionItem(ctx context.Context, subscriptionID string) (*billingstripe.SubscriptionItem, error)
	UpdateSubscriptionItem(ctx context.Context, subscriptionID string, update billingstripe.ItemUpdate) (*billingstripe.SubscriptionItem, error)
}

// QuantityStore is the persistence a quantity change needs.
type QuantityStore interface {
	GetUser(ctx context.Context, id string) (*billing.User, error)
	GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error)
	UpdateSubscriptionQuantity(ctx context.Context, organizationID string, userCount int, at time.Time) error
}

// QuantityUpdateRequest asks for a new purchased seat count.
type QuantityUpdateRequest struct {
	CallerUserID      string
	OrganizationID    string
	NewUserCount      int
	ProrationBehavior billing.ProrationBehavior
}

// QuantityUpdateResult reports an applied quantity change.
type QuantityUpdateResult struct {
	OldUserCount         int                        `json:"old_user_count"`
	NewUserCount         int                        `json:"new_user_count"`
	ProrationDetails     *billing.ProrationEstimate `json:"proration_details,omitempty"`
	StripeSubscriptionID string                     `json:"stripe_subscription_id"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

// QuantityService changes the purchased seat count of an organization.
type QuantityService struct {
	store   QuantityStore
	gateway Gateway
	prices  billing.PriceTableSource
	clock   clockwork.Clock
}

// NewQuantityService creates a QuantityService. prices and clock may be nil.
func NewQuantityService(store QuantityStore, gateway Gateway, prices billing.PriceTableSource, clock clockwork.Clock) *QuantityService {
	if prices == nil {
		prices = billing.DefaultPriceTable()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QuantityService{store: store, gateway: gateway, prices: prices, clock: clock}
}

// UpdateQuantity writes the new quantity to Stripe, then to the local
// subscription. Authorization runs before any side effect. When Stripe
// accepted the change but the local write failed, the error is a partial
// application flagged stripe_updated.
func (s *QuantityService) UpdateQuantity(ctx context.Context, req QuantityUpdateRequest) (*QuantityUpdateResult, error) {
	const op = "update_quantity"

	if req.NewUserCount < 1 {
		return nil, cperrors.InvalidInput(op, "new user count must be at least 1")
	}
	behavior, ok := billing.ParseProrationBehavior(string(req.ProrationBehavior))
	if !ok {
		return nil, cperrors.InvalidInput(op, "unsupported proration behavior")
	}
	if _, err := authorizeAdmin(ctx, s.store, op, req.CallerUserID, req.OrganizationID); err != nil {
		s.observe("rejected")
		return nil, err
	}

	sub, err := s.store.GetSubscriptionByOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, cperrors.Internal(op, err)
	}
	if sub == nil {
		s.observe("rejected")
		return nil, cperrors.NotFound(op, "Subscription not found")
	}
	if !sub.HasPaidBillingReference() {
		s.observe("rejected")
		return nil, cperrors.InvalidState(op, MessageInactiveSubscription)
	}

	// Stripe is authoritative for the purchased quantity; the local count
	// may lag behind dashboard edits.
	current, err := s.gateway.GetSubscriptionItem(ctx, sub.StripeSubscriptionID)
	if err != nil {
		s.observe("failed")
		return nil, err
	}

	now := s.clock.Now().UTC()
	result := &QuantityUpdateResult{
		OldUserCount:         current.Quantity,
		NewUserCount:         req.NewUserCount,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		UpdatedAt:            now,
	}
	logger := logging.FromContext(ctx).With().
		Str("organization_id", req.OrganizationID).
		Str("stripe_subscription_id", sub.StripeSubscriptionID).
		Int("old_user_count", current.Quantity).
		Int("new_user_count", req.NewUserCount).
		Logger()

	if current.Quantity == req.NewUserCount {
		// Stripe already holds the quantity; only the local row may lag.
		if sub.UserCount != nil && *sub.UserCount == req.NewUserCount {
			s.observe("noop")
			return result, nil
		}
		if err := s.store.UpdateSubscriptionQuantity(ctx, req.OrganizationID, req.NewUserCount, now); err != nil {
			s.observe("failed")
			return nil, cperrors.Internal(op, err)
		}
		s.observe("reconciled")
		logger.Info().Msg("Local seat count reconciled with Stripe")
		return result, nil
	}

	updated, err := s.gateway.UpdateSubscriptionItem(ctx, sub.StripeSubscriptionID, billingstripe.ItemUpdate{
		Quantity:          req.NewUserCount,
		ProrationBehavior: behavior,
	})
	if err != nil {
		s.observe("failed")
		return nil, err
	}

	if err := s.store.UpdateSubscriptionQuantity(ctx, req.OrganizationID, req.NewUserCount, now); err != nil {
		s.observe("partial")
		logger.Error().Err(err).Msg("Stripe quantity updated but local subscription was not")
		return nil, cperrors.Partial(op, "Stripe was updated but the local subscription record was not", err).
			WithDetail("old_user_count", current.Quantity).
			WithDetail("new_user_count", req.NewUserCount).
			WithDetail("stripe_subscription_id", sub.StripeSubscriptionID)
	}

	if behavior != billing.ProrationNone {
		price := s.prices.PriceTable().SeatPrice(current.PriceID)
		estimate := billing.EstimateProration(behavior, price, current.Quantity, req.NewUserCount,
			updated.CurrentPeriodStart, updated.CurrentPeriodEnd, now)
		result.ProrationDetails = &estimate
	}

	s.observe("success")
	logger.Info().Str("proration_behavior", string(behavior)).Msg("Subscription quantity updated")
	return result, nil
}

func (s *QuantityService) observe(outcome string) {
	cpmetrics.QuantityMutationsTotal.WithLabelValues(outcome).Inc()
}

// UserGetter loads users for authorization.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*billing.User, error)
}

// authorizeAdmin requires the caller to be an admin of organizationID.
func authorizeAdmin(ctx context.Context, users UserGetter, op, callerID, organizationID string) (*billing.User, error) {
	if callerID == "" {
		return nil, cperrors.New(cperrors.KindUnauthorized, op, "Authentication required", nil)
	}
	if organizationID == "" {
		return nil, cperrors.InvalidInput(op, "organization id is required")
	}
	caller, err := users.GetUser(ctx, callerID)
	if err != nil {
		return nil, cperrors.Internal(op, err)
	}
	if caller == nil {
		return nil, cperrors.New(cperrors.KindUnauthorized, op, "Unknown caller", nil)
	}
	if caller.OrganizationID != organizationID {
		return nil, cperrors.Forbidden(op, "Caller does not belong to this organization")
	}
	if caller.Role != billing.RoleAdmin {
		return nil, cperrors.Forbidden(op, "Only organization admins can manage seats")
	}
	return caller, nil
}
