package seats

import (
	"context"
	"errors"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/cpmetrics"
	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
)

// MessageTrialUpgrade is returned when a seat is needed but the subscription
// is not an active paid one.
const MessageTrialUpgrade = "Cannot upgrade trial subscription. Please subscribe to a paid plan to add more users."

// QuantityUpdater applies a seat quantity change.
type QuantityUpdater interface {
	UpdateQuantity(ctx context.Context, req QuantityUpdateRequest) (*QuantityUpdateResult, error)
}

// AddUserRequest describes one billable user about to be added.
type AddUserRequest struct {
	CallerUserID       string
	OrganizationID     string
	Subscription       *billing.Subscription
	CurrentActiveUsers int
}

// AddUserResult is the seat decision for an add-user request.
type AddUserResult struct {
	CanAdd       bool                       `json:"canAdd"`
	NeedsUpgrade bool                       `json:"needsUpgrade"`
	NewSeatCount int                        `json:"newSeatCount,omitempty"`
	SeatInfo     billing.SeatInfo           `json:"seatInfo"`
	Proration    *billing.ProrationEstimate `json:"proration,omitempty"`
	Message      string                     `json:"message,omitempty"`

	// Err is the quantity mutation failure behind a refusal, if any.
	Err error `json:"-"`
}

// PreviewResult is the side-effect free cost preview for adding one user.
type PreviewResult struct {
	SeatInfo     billing.SeatInfo        `json:"seatInfo"`
	SeatStatus   billing.SeatStatus      `json:"seatStatus"`
	NeedsUpgrade bool                    `json:"needsUpgrade"`
	CanUpgrade   bool                    `json:"canUpgrade"`
	Cost         *billing.UpgradePreview `json:"cost,omitempty"`
	Message      string                  `json:"message,omitempty"`
}

// Orchestrator decides whether adding a user needs another seat and, when it
// does, buys exactly one more.
type Orchestrator struct {
	quantity QuantityUpdater
	prices   billing.PriceTableSource
}

// NewOrchestrator creates an Orchestrator. prices may be nil.
func NewOrchestrator(quantity QuantityUpdater, prices billing.PriceTableSource) *Orchestrator {
	if prices == nil {
		prices = billing.DefaultPriceTable()
	}
	return &Orchestrator{quantity: quantity, prices: prices}
}

// HandleAddUser returns whether the user may be added. A free seat never
// touches Stripe. Trials are never converted to paid here. Otherwise the
// quantity grows to CurrentActiveUsers+1 and is invoiced immediately.
func (o *Orchestrator) HandleAddUser(ctx context.Context, req AddUserRequest) AddUserResult {
	info := billing.CalculateSeatInfo(req.Subscription, req.CurrentActiveUsers)
	if info.CanAdd(1) {
		cpmetrics.SeatUpgradesTotal.WithLabelValues("no_upgrade").Inc()
		return AddUserResult{CanAdd: true, SeatInfo: info}
	}

	res := AddUserResult{
		NeedsUpgrade: true,
		NewSeatCount: info.ActiveUsers + 1,
		SeatInfo:     info,
	}
	if !req.Subscription.HasPaidBillingReference() {
		cpmetrics.SeatUpgradesTotal.WithLabelValues("blocked").Inc()
		res.Message = MessageTrialUpgrade
		return res
	}

	logger := logging.FromContext(ctx).With().
		Str("organization_id", req.OrganizationID).
		Int("active_users", info.ActiveUsers).
		Int("subscribed_seats", info.SubscribedSeats).
		Logger()

	updated, err := o.quantity.UpdateQuantity(ctx, QuantityUpdateRequest{
		CallerUserID:      req.CallerUserID,
		OrganizationID:    req.OrganizationID,
		NewUserCount:      res.NewSeatCount,
		ProrationBehavior: billing.ProrationAlwaysInvoice,
	})
	if err != nil {
		cpmetrics.SeatUpgradesTotal.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Msg("Seat upgrade failed; user will not be added")
		res.Message = failureMessage(err)
		res.Err = err
		return res
	}

	cpmetrics.SeatUpgradesTotal.WithLabelValues("upgraded").Inc()
	logger.Info().Int("new_seat_count", updated.NewUserCount).Msg("Seat upgraded for new user")
	res.CanAdd = true
	res.NewSeatCount = updated.NewUserCount
	res.Proration = updated.ProrationDetails
	// Seat info as it stands once the new user exists.
	res.SeatInfo = billing.CalculateSeatInfo(&billing.Subscription{UserCount: billing.Seats(updated.NewUserCount)}, info.ActiveUsers+1)
	return res
}

// Preview computes the seat state and the cost of one more seat without any
// side effect.
func (o *Orchestrator) Preview(sub *billing.Subscription, currentActiveUsers int) PreviewResult {
	info := billing.CalculateSeatInfo(sub, currentActiveUsers)
	res := PreviewResult{
		SeatInfo:   info,
		SeatStatus: info.Status(),
		CanUpgrade: sub.HasPaidBillingReference(),
	}
	if info.CanAdd(1) {
		return res
	}

	res.NeedsUpgrade = true
	priceID := ""
	if sub != nil {
		priceID = sub.StripePriceID
	}
	cost := billing.PreviewSeatUpgrade(info, o.prices.PriceTable().SeatPrice(priceID))
	res.Cost = &cost
	if res.CanUpgrade {
		res.Message = billing.SeatLimitMessage(info)
	} else {
		res.Message = MessageTrialUpgrade
	}
	return res
}

func failureMessage(err error) string {
	var be *cperrors.BillingError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}
