package stripe

import (
	"strings"
	"time"
)

// Event types consumed by the synchronizer.
const (
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaid             = "invoice.paid"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventCheckoutCompleted       = "checkout.session.completed"
)

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// SubscriptionItemPayload is one line of a subscription event.
type SubscriptionItemPayload struct {
	ID                 string `json:"id"`
	Quantity           int64  `json:"quantity"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Price              struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	} `json:"price"`
}

// Subscription is a minimal representation of a Stripe subscription event.
// Period fields are read from the subscription or, on newer API versions,
// from its first item.
type Subscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CancelAt           int64  `json:"cancel_at"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	TrialStart         int64  `json:"trial_start"`
	TrialEnd           int64  `json:"trial_end"`
	Items              struct {
		Data []SubscriptionItemPayload `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// FirstPriceID returns the price ID from the first subscription item.
func (s *Subscription) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			return priceID
		}
	}
	return ""
}

// Quantity returns the seat quantity of the first item, or 0 when absent.
func (s *Subscription) Quantity() int {
	for _, item := range s.Items.Data {
		if item.Quantity > 0 {
			return int(item.Quantity)
		}
	}
	return 0
}

// Period returns the current billing period, preferring subscription-level
// fields over item-level ones. Either bound may be nil.
func (s *Subscription) Period() (start, end *time.Time) {
	startSec, endSec := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		if startSec <= 0 {
			startSec = s.Items.Data[0].CurrentPeriodStart
		}
		if endSec <= 0 {
			endSec = s.Items.Data[0].CurrentPeriodEnd
		}
	}
	return unixPtr(startSec), unixPtr(endSec)
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	Metadata map[string]string `json:"metadata"`
}

// SubscriptionID returns the subscription the invoice bills.
func (i *Invoice) SubscriptionID() string {
	if id := strings.TrimSpace(i.Subscription); id != "" {
		return id
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// SubscriptionMetadata returns the subscription metadata snapshot carried on
// the invoice, falling back to the invoice's own metadata.
func (i *Invoice) SubscriptionMetadata() map[string]string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && len(i.Parent.SubscriptionDetails.Metadata) > 0 {
		return i.Parent.SubscriptionDetails.Metadata
	}
	return i.Metadata
}

// PeriodEnd returns the latest line-item period end, if any.
func (i *Invoice) PeriodEnd() *time.Time {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return unixPtr(end)
}
