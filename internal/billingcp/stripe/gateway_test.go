package stripe

import (
	"context"
	"errors"
	"testing"
	"time"

	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"
)

type fakeSubscriptions struct {
	sub *stripelib.Subscription
	err error
}

func (f *fakeSubscriptions) Get(id string, _ *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

type fakeItems struct {
	calls  int
	itemID string
	params *stripelib.SubscriptionItemParams
	err    error
}

func (f *fakeItems) Update(id string, params *stripelib.SubscriptionItemParams) (*stripelib.SubscriptionItem, error) {
	f.calls++
	f.itemID = id
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripelib.SubscriptionItem{
		ID:       id,
		Quantity: *params.Quantity,
		Price:    &stripelib.Price{ID: "price_pro"},
	}, nil
}

func stripeSubscription(quantity int64) *stripelib.Subscription {
	start := syncNow.Add(-10 * 24 * time.Hour)
	return &stripelib.Subscription{
		ID: "sub_123",
		Items: &stripelib.SubscriptionItemList{Data: []*stripelib.SubscriptionItem{{
			ID:                 "si_123",
			Quantity:           quantity,
			Price:              &stripelib.Price{ID: "price_pro"},
			CurrentPeriodStart: start.Unix(),
			CurrentPeriodEnd:   start.Add(DefaultPeriodLength).Unix(),
		}}},
	}
}

func TestClientGetSubscriptionItem(t *testing.T) {
	c := &Client{subscriptions: &fakeSubscriptions{sub: stripeSubscription(4)}, items: &fakeItems{}}

	item, err := c.GetSubscriptionItem(context.Background(), "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "si_123", item.ID)
	assert.Equal(t, 4, item.Quantity)
	assert.Equal(t, "price_pro", item.PriceID)
	require.NotNil(t, item.CurrentPeriodEnd)
	assert.True(t, syncNow.Add(20*24*time.Hour).Equal(*item.CurrentPeriodEnd))
}

func TestClientUpdateSubscriptionItem(t *testing.T) {
	items := &fakeItems{}
	c := &Client{subscriptions: &fakeSubscriptions{sub: stripeSubscription(4)}, items: items}

	item, err := c.UpdateSubscriptionItem(context.Background(), "sub_123", ItemUpdate{
		Quantity:          5,
		ProrationBehavior: billing.ProrationAlwaysInvoice,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)
	assert.Equal(t, "si_123", items.itemID)
	assert.Equal(t, int64(5), *items.params.Quantity)
	assert.Equal(t, "always_invoice", *items.params.ProrationBehavior)
	require.NotNil(t, item.CurrentPeriodEnd, "period carried over from the re-read item")
}

func TestClientRejectsInvalidInput(t *testing.T) {
	items := &fakeItems{}
	c := &Client{subscriptions: &fakeSubscriptions{sub: stripeSubscription(1)}, items: items}

	_, err := c.GetSubscriptionItem(context.Background(), "../etc")
	assert.ErrorIs(t, err, cperrors.ErrInvalidInput)

	_, err = c.UpdateSubscriptionItem(context.Background(), "sub_123", ItemUpdate{Quantity: 0})
	assert.ErrorIs(t, err, cperrors.ErrInvalidInput)
	assert.Zero(t, items.calls)
}

func TestClientKeepsStripeErrorDetails(t *testing.T) {
	stripeErr := &stripelib.Error{
		Code:           stripelib.ErrorCode("resource_missing"),
		Type:           stripelib.ErrorType("invalid_request_error"),
		Param:          "id",
		RequestID:      "req_abc",
		Msg:            "No such subscription: 'sub_123'",
		HTTPStatusCode: 404,
	}
	c := &Client{subscriptions: &fakeSubscriptions{err: stripeErr}, items: &fakeItems{}}

	_, err := c.GetSubscriptionItem(context.Background(), "sub_123")
	require.Error(t, err)
	assert.ErrorIs(t, err, cperrors.ErrExternalService)

	var be *cperrors.BillingError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "No such subscription: 'sub_123'", be.Message)
	assert.Equal(t, "resource_missing", be.Details["code"])
	assert.Equal(t, "invalid_request_error", be.Details["type"])
	assert.Equal(t, "id", be.Details["param"])
	assert.Equal(t, "req_abc", be.Details["request_id"])
	assert.False(t, cperrors.IsStripeUpdated(err))
}

func TestClientWrapsTransportErrors(t *testing.T) {
	c := &Client{subscriptions: &fakeSubscriptions{err: errors.New("connection reset")}, items: &fakeItems{}}

	_, err := c.GetSubscriptionItem(context.Background(), "sub_123")
	assert.ErrorIs(t, err, cperrors.ErrExternalService)
	assert.Equal(t, 502, cperrors.HTTPStatusOf(err))
}
