package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/subscriptionitem"
)

// SubscriptionItem is the seat line of a Stripe subscription.
type SubscriptionItem struct {
	ID                 string          `json:"id"`
	SubscriptionID     string          `json:"subscription_id"`
	Quantity           int             `json:"quantity"`
	PriceID            string          `json:"price_id,omitempty"`
	CurrentPeriodStart *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time      `json:"current_period_end,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

// ItemUpdate is a requested quantity change.
type ItemUpdate struct {
	Quantity          int
	ProrationBehavior billing.ProrationBehavior
}

// Gateway reads and writes subscription quantities in Stripe.
type Gateway interface {
	GetSubscriptionItem(ctx context.Context, subscriptionID string) (*SubscriptionItem, error)
	UpdateSubscriptionItem(ctx context.Context, subscriptionID string, update ItemUpdate) (*SubscriptionItem, error)
}

type subscriptionGetter interface {
	Get(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
}

type itemUpdater interface {
	Update(id string, params *stripelib.SubscriptionItemParams) (*stripelib.SubscriptionItem, error)
}

// Client is the stripe-go backed Gateway.
type Client struct {
	subscriptions subscriptionGetter
	items         itemUpdater
}

var _ Gateway = (*Client)(nil)

// NewClient returns a Gateway authenticated with apiKey.
func NewClient(apiKey string) *Client {
	backend := stripelib.GetBackend(stripelib.APIBackend)
	key := strings.TrimSpace(apiKey)
	return &Client{
		subscriptions: &subscription.Client{B: backend, Key: key},
		items:         &subscriptionitem.Client{B: backend, Key: key},
	}
}

// GetSubscriptionItem returns the first item of the subscription, which
// carries the purchased seat quantity.
func (c *Client) GetSubscriptionItem(ctx context.Context, subscriptionID string) (*SubscriptionItem, error) {
	const op = "get_subscription_item"
	if !IsSafeStripeID(subscriptionID) {
		return nil, cperrors.InvalidInput(op, "invalid Stripe subscription id")
	}

	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, externalError(op, err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return nil, cperrors.New(cperrors.KindExternalService, op, "subscription has no items", nil).
			WithDetail("stripe_subscription_id", subscriptionID)
	}

	item := fromStripeItem(subscriptionID, sub.Items.Data[0])
	if sub.LastResponse != nil {
		item.Raw = json.RawMessage(sub.LastResponse.RawJSON)
	}
	return item, nil
}

// UpdateSubscriptionItem sets the seat quantity. The item is re-read first so
// the write targets the current line.
func (c *Client) UpdateSubscriptionItem(ctx context.Context, subscriptionID string, update ItemUpdate) (*SubscriptionItem, error) {
	const op = "update_subscription_item"
	if update.Quantity < 1 {
		return nil, cperrors.InvalidInput(op, "quantity must be at least 1")
	}
	current, err := c.GetSubscriptionItem(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	behavior := update.ProrationBehavior
	if behavior == "" {
		behavior = billing.DefaultProrationBehavior
	}
	params := &stripelib.SubscriptionItemParams{
		Quantity:          stripelib.Int64(int64(update.Quantity)),
		ProrationBehavior: stripelib.String(string(behavior)),
	}
	params.Context = ctx

	updated, err := c.items.Update(current.ID, params)
	if err != nil {
		return nil, externalError(op, err)
	}
	item := fromStripeItem(subscriptionID, updated)
	if item.CurrentPeriodStart == nil {
		item.CurrentPeriodStart = current.CurrentPeriodStart
	}
	if item.CurrentPeriodEnd == nil {
		item.CurrentPeriodEnd = current.CurrentPeriodEnd
	}
	if updated.LastResponse != nil {
		item.Raw = json.RawMessage(updated.LastResponse.RawJSON)
	}
	return item, nil
}

func fromStripeItem(subscriptionID string, si *stripelib.SubscriptionItem) *SubscriptionItem {
	item := &SubscriptionItem{
		ID:                 si.ID,
		SubscriptionID:     subscriptionID,
		Quantity:           int(si.Quantity),
		CurrentPeriodStart: unixPtr(si.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(si.CurrentPeriodEnd),
	}
	if si.Price != nil {
		item.PriceID = si.Price.ID
	}
	return item
}

// externalError keeps Stripe's diagnostic fields on the returned error.
func externalError(op string, err error) error {
	var serr *stripelib.Error
	if !errors.As(err, &serr) {
		return cperrors.New(cperrors.KindExternalService, op, "Stripe request failed", err)
	}

	msg := strings.TrimSpace(serr.Msg)
	if msg == "" {
		msg = "Stripe request failed"
	}
	be := cperrors.New(cperrors.KindExternalService, op, msg, fmt.Errorf("stripe: %w", err))
	if serr.Code != "" {
		be.WithDetail("code", string(serr.Code))
	}
	if serr.Type != "" {
		be.WithDetail("type", string(serr.Type))
	}
	if serr.Param != "" {
		be.WithDetail("param", serr.Param)
	}
	if serr.RequestID != "" {
		be.WithDetail("request_id", serr.RequestID)
	}
	if serr.HTTPStatusCode != 0 {
		be.WithDetail("stripe_status", serr.HTTPStatusCode)
	}
	return be
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
