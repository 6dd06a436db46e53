package seats

import (
	"context"
	"errors"
	"strings"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/registry"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/usercount"
	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
)

// CodeStaleUserCount marks add-user refusals caused by an unavailable roster.
const CodeStaleUserCount = "stale_user_count"

// Store is the persistence the add-user flow needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*billing.User, error)
	GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error)
	CreateUser(ctx context.Context, u *billing.User) error
}

// Counter counts billable users, substituting a flagged default when the
// roster is unavailable.
type Counter interface {
	CountOrFallback(ctx context.Context, organizationID string) (*usercount.Result, error)
}

// NewUser is the member an admin wants to add.
type NewUser struct {
	Email       string
	DisplayName string
	Role        billing.Role
}

// AddUserInput is a request to add a member to an organization.
type AddUserInput struct {
	CallerUserID   string
	OrganizationID string
	User           NewUser
	// ConfirmUpgrade must be set to buy a seat; without it an upgrade-needing
	// request only returns the preview.
	ConfirmUpgrade bool
}

// AddUserOutcome reports what the add-user flow did.
type AddUserOutcome struct {
	Created           bool                    `json:"created"`
	User              *billing.User           `json:"user,omitempty"`
	NeedsConfirmation bool                    `json:"needsConfirmation"`
	Seat              AddUserResult           `json:"seat"`
	Preview           *billing.UpgradePreview `json:"preview,omitempty"`
	Warning           string                  `json:"warning,omitempty"`
}

// Summary is the seat overview of an organization.
type Summary struct {
	OrganizationID string                `json:"organizationId"`
	PlanName       billing.PlanName      `json:"planName"`
	Status         billing.Status        `json:"status"`
	SeatInfo       billing.SeatInfo      `json:"seatInfo"`
	SeatStatus     billing.SeatStatus    `json:"seatStatus"`
	Count          *usercount.Result     `json:"count"`
	Subscription   *billing.Subscription `json:"subscription,omitempty"`
}

// Service runs the end-to-end add-user flow: count, decide, charge if
// confirmed, then create the user. A user is never created without the seat
// that pays for it.
type Service struct {
	store        Store
	counter      Counter
	orchestrator *Orchestrator
}

// NewService creates a Service.
func NewService(store Store, counter Counter, orchestrator *Orchestrator) *Service {
	return &Service{store: store, counter: counter, orchestrator: orchestrator}
}

// AddUser adds a member. Basic users are free and skip seat logic.
func (s *Service) AddUser(ctx context.Context, in AddUserInput) (*AddUserOutcome, error) {
	const op = "add_user"

	email := strings.TrimSpace(in.User.Email)
	if email == "" {
		return nil, cperrors.InvalidInput(op, "email is required")
	}
	if !in.User.Role.Valid() {
		return nil, cperrors.InvalidInput(op, "role must be admin, verifier or basic")
	}
	if _, err := authorizeAdmin(ctx, s.store, op, in.CallerUserID, in.OrganizationID); err != nil {
		return nil, err
	}

	if !in.User.Role.IsBillable() {
		user, err := s.createUser(ctx, in)
		if err != nil {
			return nil, err
		}
		return &AddUserOutcome{Created: true, User: user, Seat: AddUserResult{CanAdd: true}}, nil
	}

	count, err := s.counter.CountOrFallback(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscriptionByOrganization(ctx, in.OrganizationID)
	if err != nil {
		return nil, cperrors.Internal(op, err)
	}

	info := billing.CalculateSeatInfo(sub, count.UserCount)
	outcome := &AddUserOutcome{Warning: count.Warning}
	if !info.CanAdd(1) && sub.HasPaidBillingReference() {
		if count.Fallback {
			return nil, cperrors.New(cperrors.KindStaleData, op,
				"User count is unavailable; refresh and try again before adding a paid seat", nil).
				WithCode(CodeStaleUserCount)
		}
		if !in.ConfirmUpgrade {
			preview := s.orchestrator.Preview(sub, count.UserCount)
			outcome.NeedsConfirmation = true
			outcome.Preview = preview.Cost
			outcome.Seat = AddUserResult{
				NeedsUpgrade: true,
				NewSeatCount: info.ActiveUsers + 1,
				SeatInfo:     info,
				Message:      preview.Message,
			}
			return outcome, nil
		}
	}

	seat := s.orchestrator.HandleAddUser(ctx, AddUserRequest{
		CallerUserID:       in.CallerUserID,
		OrganizationID:     in.OrganizationID,
		Subscription:       sub,
		CurrentActiveUsers: count.UserCount,
	})
	outcome.Seat = seat
	if !seat.CanAdd {
		if seat.Err != nil {
			return nil, seat.Err
		}
		return nil, cperrors.New(cperrors.KindInvalidState, op, seat.Message, nil).
			WithDetail("needsUpgrade", true).
			WithDetail("newSeatCount", seat.NewSeatCount)
	}

	user, err := s.createUser(ctx, in)
	if err != nil {
		if seat.NeedsUpgrade {
			logger := logging.FromContext(ctx)
			logger.Error().Err(err).
				Str("organization_id", in.OrganizationID).
				Int("new_seat_count", seat.NewSeatCount).
				Msg("Seat purchased but user creation failed")
			var be *cperrors.BillingError
			if errors.As(err, &be) {
				be.WithDetail("seat_upgraded", true)
			}
		}
		return nil, err
	}
	outcome.Created = true
	outcome.User = user
	return outcome, nil
}

// Preview returns the cost of adding one billable user without side effects.
func (s *Service) Preview(ctx context.Context, callerUserID, organizationID string) (*PreviewResult, error) {
	if _, err := authorizeAdmin(ctx, s.store, "preview_seats", callerUserID, organizationID); err != nil {
		return nil, err
	}
	count, err := s.counter.CountOrFallback(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscriptionByOrganization(ctx, organizationID)
	if err != nil {
		return nil, cperrors.Internal("preview_seats", err)
	}
	res := s.orchestrator.Preview(sub, count.UserCount)
	return &res, nil
}

// Summary returns the seat overview for any member of the organization.
func (s *Service) Summary(ctx context.Context, callerUserID, organizationID string) (*Summary, error) {
	const op = "seat_summary"
	if err := AuthorizeMember(ctx, s.store, op, callerUserID, organizationID); err != nil {
		return nil, err
	}
	return s.OrganizationSummary(ctx, organizationID)
}

// OrganizationSummary returns the seat overview without a caller check. It
// backs operator tooling that already runs with registry access.
func (s *Service) OrganizationSummary(ctx context.Context, organizationID string) (*Summary, error) {
	const op = "seat_summary"
	count, err := s.counter.CountOrFallback(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscriptionByOrganization(ctx, organizationID)
	if err != nil {
		return nil, cperrors.Internal(op, err)
	}

	info := billing.CalculateSeatInfo(sub, count.UserCount)
	summary := &Summary{
		OrganizationID: organizationID,
		SeatInfo:       info,
		SeatStatus:     info.Status(),
		Count:          count,
		Subscription:   sub,
	}
	if sub != nil {
		summary.PlanName = sub.PlanName
		summary.Status = sub.Status
	}
	return summary, nil
}

func (s *Service) createUser(ctx context.Context, in AddUserInput) (*billing.User, error) {
	user := &billing.User{
		OrganizationID: in.OrganizationID,
		Email:          strings.TrimSpace(in.User.Email),
		DisplayName:    strings.TrimSpace(in.User.DisplayName),
		Role:           in.User.Role,
		IsActive:       true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, registry.ErrDuplicate) {
			return nil, cperrors.New(cperrors.KindInvalidInput, "add_user", "A user with this email already exists", err)
		}
		return nil, cperrors.Internal("add_user", err)
	}
	return user, nil
}

// AuthorizeMember requires the caller to belong to organizationID.
func AuthorizeMember(ctx context.Context, users UserGetter, op, callerID, organizationID string) error {
	if callerID == "" {
		return cperrors.New(cperrors.KindUnauthorized, op, "Authentication required", nil)
	}
	caller, err := users.GetUser(ctx, callerID)
	if err != nil {
		return cperrors.Internal(op, err)
	}
	if caller == nil {
		return cperrors.New(cperrors.KindUnauthorized, op, "Unknown caller", nil)
	}
	if caller.OrganizationID != organizationID {
		return cperrors.Forbidden(op, "Caller does not belong to this organization")
	}
	return nil
}
