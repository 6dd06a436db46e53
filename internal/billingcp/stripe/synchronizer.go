package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/registry"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/jonboulle/clockwork"
	stripelib "github.com/stripe/stripe-go/v82"
)

// DefaultPeriodLength is assumed when an event omits the period end.
const DefaultPeriodLength = 30 * 24 * time.Hour

// ErrUnresolvedOrganization is returned when an event cannot be tied to a
// local organization. Stripe retries such deliveries.
var ErrUnresolvedOrganization = errors.New("organization could not be resolved")

// SyncStore is the persistence the synchronizer needs.
type SyncStore interface {
	GetOrganization(ctx context.Context, id string) (*billing.Organization, error)
	GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*billing.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*billing.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *billing.Subscription) error
	RecordEvent(ctx context.Context, ev *registry.BillingEvent) error
}

// SynchronizerOptions configures a Synchronizer.
type SynchronizerOptions struct {
	// RejectStaleEvents skips events created before the last applied one.
	// Off by default: last write wins.
	RejectStaleEvents bool
	Clock             clockwork.Clock
}

// Synchronizer maps Stripe lifecycle events onto the organization's single
// subscription row.
type Synchronizer struct {
	store       SyncStore
	prices      billing.PriceTableSource
	clock       clockwork.Clock
	rejectStale bool
}

// NewSynchronizer creates a Synchronizer. prices may be nil.
func NewSynchronizer(store SyncStore, prices billing.PriceTableSource, opts SynchronizerOptions) *Synchronizer {
	if prices == nil {
		prices = billing.DefaultPriceTable()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Synchronizer{
		store:       store,
		prices:      prices,
		clock:       opts.Clock,
		rejectStale: opts.RejectStaleEvents,
	}
}

// lookupKeys identify the organization an event belongs to, strongest first.
type lookupKeys struct {
	organizationID string
	subscriptionID string
	customerID     string
}

// change is a decoded event ready to be applied to a subscription row.
type change struct {
	keys lookupKeys
	// requireRow skips creating a row when none exists yet.
	requireRow bool
	mutate     func(sub *billing.Subscription, at time.Time)
}

// Apply processes one verified event and records its outcome. A returned
// error means the delivery should be retried.
func (s *Synchronizer) Apply(ctx context.Context, event *stripelib.Event) (registry.EventOutcome, error) {
	eventType := string(event.Type)
	logger := logging.FromContext(ctx).With().
		Str("event_id", event.ID).
		Str("type", eventType).
		Logger()

	c, handled, err := s.decode(event)
	if err != nil {
		s.record(ctx, event, "", registry.EventOutcomeFailed)
		return registry.EventOutcomeFailed, err
	}
	if !handled {
		logger.Info().Msg("Stripe webhook ignored (unhandled type)")
		s.record(ctx, event, "", registry.EventOutcomeIgnored)
		return registry.EventOutcomeIgnored, nil
	}

	orgID, outcome, err := s.applyChange(ctx, event, c)
	s.record(ctx, event, orgID, outcome)
	switch {
	case err != nil:
		logger.Warn().Err(err).Str("organization_id", orgID).Str("outcome", string(outcome)).
			Msg("Stripe event not applied")
	case outcome == registry.EventOutcomeStale:
		logger.Info().Str("organization_id", orgID).Msg("Stripe event older than stored state; skipped")
	default:
		logger.Info().Str("organization_id", orgID).Msg("Stripe event applied")
	}
	return outcome, err
}

func (s *Synchronizer) decode(event *stripelib.Event) (*change, bool, error) {
	if event.Data == nil {
		return nil, false, fmt.Errorf("event %s has no data", event.ID)
	}
	raw := event.Data.Raw

	switch string(event.Type) {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, false, fmt.Errorf("decode subscription: %w", err)
		}
		return s.subscriptionChanged(sub), true, nil

	case EventSubscriptionDeleted:
		var sub Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, false, fmt.Errorf("decode subscription: %w", err)
		}
		return subscriptionDeleted(sub), true, nil

	case EventInvoicePaymentSucceeded, EventInvoicePaid:
		var inv Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, false, fmt.Errorf("decode invoice: %w", err)
		}
		return s.invoicePaid(inv), true, nil

	case EventInvoicePaymentFailed:
		var inv Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, false, fmt.Errorf("decode invoice: %w", err)
		}
		return invoiceFailed(inv), true, nil

	case EventCheckoutCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, false, fmt.Errorf("decode checkout.session: %w", err)
		}
		if session.Mode != "" && session.Mode != "subscription" {
			return nil, false, nil
		}
		return s.checkoutCompleted(session), true, nil

	default:
		return nil, false, nil
	}
}

func (s *Synchronizer) applyChange(ctx context.Context, event *stripelib.Event, c *change) (string, registry.EventOutcome, error) {
	orgID, existing, err := s.resolve(ctx, c.keys)
	if err != nil {
		if errors.Is(err, ErrUnresolvedOrganization) {
			return orgID, registry.EventOutcomeUnresolved, err
		}
		return orgID, registry.EventOutcomeFailed, err
	}

	at := s.eventTime(event)
	if s.rejectStale && existing != nil && existing.LastEventAt != nil && at.Before(*existing.LastEventAt) {
		return orgID, registry.EventOutcomeStale, nil
	}

	var sub *billing.Subscription
	if existing != nil {
		sub = existing.Clone()
	} else {
		if c.requireRow {
			return orgID, registry.EventOutcomeUnresolved,
				fmt.Errorf("%w: no subscription row for organization %s", ErrUnresolvedOrganization, orgID)
		}
		sub = &billing.Subscription{OrganizationID: orgID, CreatedAt: at}
	}

	c.mutate(sub, at)
	if sub.LastEventAt == nil || at.After(*sub.LastEventAt) {
		sub.LastEventAt = billing.TimePtr(at)
	}

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return orgID, registry.EventOutcomeFailed, fmt.Errorf("upsert subscription: %w", err)
	}
	return orgID, registry.EventOutcomeApplied, nil
}

// resolve finds the organization by metadata, then by Stripe subscription
// id, then by customer id.
func (s *Synchronizer) resolve(ctx context.Context, keys lookupKeys) (string, *billing.Subscription, error) {
	if keys.organizationID != "" {
		org, err := s.store.GetOrganization(ctx, keys.organizationID)
		if err != nil {
			return keys.organizationID, nil, fmt.Errorf("lookup organization: %w", err)
		}
		if org == nil {
			return keys.organizationID, nil, fmt.Errorf("%w: unknown organization %s", ErrUnresolvedOrganization, keys.organizationID)
		}
		sub, err := s.store.GetSubscriptionByOrganization(ctx, org.ID)
		if err != nil {
			return org.ID, nil, fmt.Errorf("lookup subscription by organization: %w", err)
		}
		return org.ID, sub, nil
	}

	if IsSafeStripeID(keys.subscriptionID) {
		sub, err := s.store.GetSubscriptionByStripeID(ctx, keys.subscriptionID)
		if err != nil {
			return "", nil, fmt.Errorf("lookup subscription by stripe id: %w", err)
		}
		if sub != nil {
			return sub.OrganizationID, sub, nil
		}
	}
	if IsSafeStripeID(keys.customerID) {
		sub, err := s.store.GetSubscriptionByCustomerID(ctx, keys.customerID)
		if err != nil {
			return "", nil, fmt.Errorf("lookup subscription by customer: %w", err)
		}
		if sub != nil {
			return sub.OrganizationID, sub, nil
		}
	}
	return "", nil, ErrUnresolvedOrganization
}

func (s *Synchronizer) subscriptionChanged(payload Subscription) *change {
	return &change{
		keys: lookupKeys{
			organizationID: OrganizationIDFromMetadata(payload.Metadata),
			subscriptionID: strings.TrimSpace(payload.ID),
			customerID:     strings.TrimSpace(payload.Customer),
		},
		mutate: func(sub *billing.Subscription, at time.Time) {
			priceID := payload.FirstPriceID()
			tier := s.prices.PriceTable().ResolvePlan(priceID, payload.Metadata)
			sub.PlanName, sub.Status = billing.MapStripeStatus(payload.Status, tier)

			linkStripeIDs(sub, payload.Customer, payload.ID)
			if priceID != "" {
				sub.StripePriceID = priceID
			}
			if q := payload.Quantity(); q > 0 {
				sub.UserCount = billing.Seats(q)
			} else if sub.UserCount == nil {
				sub.UserCount = billing.Seats(billing.DefaultSubscribedSeats)
			}
			sub.CancelAtPeriodEnd = payload.CancelAtPeriodEnd
			sub.CancelAt = unixPtr(payload.CancelAt)

			start, end := payload.Period()
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd = periodOrDefault(start, end, at)

			trialStart, trialEnd := unixPtr(payload.TrialStart), unixPtr(payload.TrialEnd)
			if sub.Status == billing.StatusTrialing {
				if trialStart == nil {
					trialStart = billing.TimePtr(at)
				}
				if trialEnd == nil {
					trialEnd = billing.TimePtr(trialStart.Add(billing.DefaultTrialDuration))
				}
			}
			if trialStart != nil {
				sub.TrialStartDate = trialStart
			}
			if trialEnd != nil {
				sub.TrialEndDate = trialEnd
			}
		},
	}
}

// subscriptionDeleted marks the row canceled. The plan is left alone so the
// access evaluator can honor the remaining paid period before restricting.
func subscriptionDeleted(payload Subscription) *change {
	return &change{
		keys: lookupKeys{
			organizationID: OrganizationIDFromMetadata(payload.Metadata),
			subscriptionID: strings.TrimSpace(payload.ID),
			customerID:     strings.TrimSpace(payload.Customer),
		},
		requireRow: true,
		mutate: func(sub *billing.Subscription, _ time.Time) {
			sub.Status = billing.StatusCanceled
			sub.CancelAtPeriodEnd = false
			linkStripeIDs(sub, payload.Customer, payload.ID)
			if start, end := payload.Period(); end != nil {
				sub.CurrentPeriodStart, sub.CurrentPeriodEnd = start, end
			}
		},
	}
}

// invoicePaid returns the subscription to its paid tier.
func (s *Synchronizer) invoicePaid(inv Invoice) *change {
	metadata := inv.SubscriptionMetadata()
	return &change{
		keys: lookupKeys{
			organizationID: OrganizationIDFromMetadata(metadata),
			subscriptionID: inv.SubscriptionID(),
			customerID:     strings.TrimSpace(inv.Customer),
		},
		requireRow: true,
		mutate: func(sub *billing.Subscription, at time.Time) {
			if !sub.PlanName.IsPaid() {
				sub.PlanName = s.prices.PriceTable().ResolvePlan(sub.StripePriceID, metadata)
			}
			sub.Status = billing.StatusActive
			linkStripeIDs(sub, inv.Customer, inv.SubscriptionID())
			if end := inv.PeriodEnd(); end != nil && (sub.CurrentPeriodEnd == nil || end.After(*sub.CurrentPeriodEnd)) {
				sub.CurrentPeriodEnd = end
			}
			if sub.CurrentPeriodEnd == nil {
				sub.CurrentPeriodStart, sub.CurrentPeriodEnd = periodOrDefault(sub.CurrentPeriodStart, nil, at)
			}
		},
	}
}

// invoiceFailed records past_due; access then follows the evaluator's rules.
func invoiceFailed(inv Invoice) *change {
	return &change{
		keys: lookupKeys{
			organizationID: OrganizationIDFromMetadata(inv.SubscriptionMetadata()),
			subscriptionID: inv.SubscriptionID(),
			customerID:     strings.TrimSpace(inv.Customer),
		},
		requireRow: true,
		mutate: func(sub *billing.Subscription, _ time.Time) {
			sub.Status = billing.StatusPastDue
			linkStripeIDs(sub, inv.Customer, inv.SubscriptionID())
		},
	}
}

// checkoutCompleted links the Stripe customer and subscription to the
// organization and activates the paid plan chosen at checkout.
func (s *Synchronizer) checkoutCompleted(session CheckoutSession) *change {
	return &change{
		keys: lookupKeys{
			organizationID: OrganizationIDFromMetadata(session.Metadata),
			subscriptionID: strings.TrimSpace(session.Subscription),
			customerID:     strings.TrimSpace(session.Customer),
		},
		mutate: func(sub *billing.Subscription, at time.Time) {
			linkStripeIDs(sub, session.Customer, session.Subscription)
			if seats := metadataSeats(session.Metadata); seats > 0 {
				sub.UserCount = billing.Seats(seats)
			} else if sub.UserCount == nil {
				sub.UserCount = billing.Seats(billing.DefaultSubscribedSeats)
			}
			switch session.PaymentStatus {
			case "", "paid", "no_payment_required":
			default:
				return
			}
			if !sub.PlanName.IsPaid() {
				sub.PlanName = s.prices.PriceTable().ResolvePlan(sub.StripePriceID, session.Metadata)
			}
			sub.Status = billing.StatusActive
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd = periodOrDefault(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, at)
		},
	}
}

func (s *Synchronizer) eventTime(event *stripelib.Event) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return s.clock.Now().UTC()
}

func (s *Synchronizer) record(ctx context.Context, event *stripelib.Event, orgID string, outcome registry.EventOutcome) {
	ev := &registry.BillingEvent{
		StripeEventID:  event.ID,
		Type:           string(event.Type),
		OrganizationID: orgID,
		Outcome:        outcome,
		ReceivedAt:     s.clock.Now().UTC(),
	}
	if err := s.store.RecordEvent(ctx, ev); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to record billing event")
	}
}

// periodOrDefault fills a missing period start with at and a missing end with
// at plus DefaultPeriodLength. A null end would never expire.
func periodOrDefault(start, end *time.Time, at time.Time) (*time.Time, *time.Time) {
	if start == nil {
		start = billing.TimePtr(at)
	}
	if end == nil {
		end = billing.TimePtr(at.Add(DefaultPeriodLength))
	}
	return start, end
}

func linkStripeIDs(sub *billing.Subscription, customerID, subscriptionID string) {
	if id := strings.TrimSpace(customerID); id != "" {
		sub.StripeCustomerID = id
	}
	if id := strings.TrimSpace(subscriptionID); id != "" {
		sub.StripeSubscriptionID = id
	}
}

func metadataSeats(metadata map[string]string) int {
	for _, key := range []string{"user_count", "seats", "quantity"} {
		if n, err := strconv.Atoi(strings.TrimSpace(metadata[key])); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
