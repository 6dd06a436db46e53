// Package access decides whether a user's organization may use the product
// and applies the RESTRICTED transition owed by expired trials and lapsed
// cancellations.
package access

import (
	"context"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/cpmetrics"
	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Trigger labels for restriction metrics and logs.
const (
	TriggerAccessCheck = "access_check"
	TriggerSweeper     = "sweeper"
)

// Store is the persistence the evaluator needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*billing.User, error)
	GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error)
	RestrictSubscription(ctx context.Context, organizationID string, r billing.Restriction, at time.Time) (bool, error)
}

// Result answers an access check.
type Result struct {
	HasAccess      bool                  `json:"hasAccess"`
	IsExpired      bool                  `json:"isExpired"`
	IsInTrial      bool                  `json:"isInTrial"`
	Reason         string                `json:"reason,omitempty"`
	OrganizationID string                `json:"organizationId,omitempty"`
	Subscription   *billing.Subscription `json:"subscription,omitempty"`
}

// StatusResult is the subscription summary shown to a signed-in user.
type StatusResult struct {
	HasActiveSubscription bool                  `json:"hasActiveSubscription"`
	IsInTrial             bool                  `json:"isInTrial"`
	TrialDaysRemaining    int                   `json:"trialDaysRemaining"`
	Reason                string                `json:"reason,omitempty"`
	Subscription          *billing.Subscription `json:"subscription"`
}

// Evaluator applies the access decision table against stored subscriptions.
type Evaluator struct {
	store Store
	clock clockwork.Clock
	group singleflight.Group
}

// NewEvaluator returns an Evaluator. A nil clock uses the wall clock.
func NewEvaluator(store Store, clock clockwork.Clock) *Evaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Evaluator{store: store, clock: clock}
}

// CheckAccess resolves the user's organization and evaluates its
// subscription, demoting it to RESTRICTED when due. Store read failures
// degrade to a denial instead of an error; an unknown user is NotFound.
func (e *Evaluator) CheckAccess(ctx context.Context, userID string) (*Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, cperrors.InvalidInput("check_access", "user id is required")
	}

	logger := logging.FromContext(ctx)
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("Access check could not load user")
		cpmetrics.AccessChecksTotal.WithLabelValues("unverified").Inc()
		return &Result{Reason: billing.ReasonUnverified}, nil
	}
	if user == nil {
		return nil, cperrors.NotFound("check_access", "user not found")
	}

	res := e.EvaluateOrganization(ctx, user.OrganizationID, TriggerAccessCheck)
	switch {
	case res.Reason == billing.ReasonUnverified:
		cpmetrics.AccessChecksTotal.WithLabelValues("unverified").Inc()
	case res.HasAccess:
		cpmetrics.AccessChecksTotal.WithLabelValues("granted").Inc()
	default:
		cpmetrics.AccessChecksTotal.WithLabelValues("denied").Inc()
	}
	return res, nil
}

// SubscriptionStatus summarizes the user's subscription, applying the same
// transitions as CheckAccess.
func (e *Evaluator) SubscriptionStatus(ctx context.Context, userID string) (*StatusResult, error) {
	res, err := e.CheckAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		HasActiveSubscription: res.HasAccess,
		IsInTrial:             res.IsInTrial,
		TrialDaysRemaining:    billing.TrialDaysRemaining(res.Subscription, e.clock.Now()),
		Reason:                res.Reason,
		Subscription:          res.Subscription,
	}, nil
}

// EvaluateOrganization evaluates the organization's subscription as of now.
func (e *Evaluator) EvaluateOrganization(ctx context.Context, organizationID, trigger string) *Result {
	sub, err := e.store.GetSubscriptionByOrganization(ctx, organizationID)
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).
			Str("organization_id", organizationID).
			Msg("Access check could not load subscription")
		return &Result{OrganizationID: organizationID, Reason: billing.ReasonUnverified}
	}
	return e.Enforce(ctx, sub, trigger)
}

// Enforce evaluates sub and, when the decision calls for it, performs the
// RESTRICTED transition. Concurrent calls for one organization share a single
// store write, and the write itself is skipped for already-restricted rows.
func (e *Evaluator) Enforce(ctx context.Context, sub *billing.Subscription, trigger string) *Result {
	now := e.clock.Now()
	if sub == nil {
		decision := billing.EvaluateAccess(nil, now)
		return &Result{IsExpired: decision.Expired, Reason: decision.Reason}
	}

	sub = sub.Clone()
	decision := billing.EvaluateAccess(sub, now)
	if decision.Restrict != nil {
		if err := e.restrict(ctx, sub, *decision.Restrict, now, trigger); err != nil {
			logger := logging.FromContext(ctx)
			logger.Error().Err(err).
				Str("organization_id", sub.OrganizationID).
				Msg("Failed to restrict subscription")
		}
	}

	return &Result{
		HasAccess:      decision.HasAccess,
		IsExpired:      decision.Expired,
		IsInTrial:      decision.InTrial,
		Reason:         decision.Reason,
		OrganizationID: sub.OrganizationID,
		Subscription:   sub,
	}
}

func (e *Evaluator) restrict(ctx context.Context, sub *billing.Subscription, r billing.Restriction, now time.Time, trigger string) error {
	// The function runs once per flight; coalesced callers only share its
	// result, so the transition is counted and logged once.
	_, err, _ := e.group.Do(sub.OrganizationID, func() (interface{}, error) {
		changed, err := e.store.RestrictSubscription(ctx, sub.OrganizationID, r, now)
		if err != nil || !changed {
			return changed, err
		}
		cpmetrics.RestrictionsTotal.WithLabelValues(trigger).Inc()
		logger := logging.FromContext(ctx)
		logger.Info().
			Str("organization_id", sub.OrganizationID).
			Str("status", string(r.Status)).
			Str("trigger", trigger).
			Msg("Subscription restricted")
		return changed, nil
	})
	if err != nil {
		return err
	}
	billing.ApplyRestriction(sub, r, now)
	return nil
}
