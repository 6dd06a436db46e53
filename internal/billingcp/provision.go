package billingcp

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ProvisionStore creates organizations and their first member.
type ProvisionStore interface {
	CreateOrganizationWithTrial(ctx context.Context, org *billing.Organization, sub *billing.Subscription) error
	CreateUser(ctx context.Context, u *billing.User) error
}

// ProvisionRequest describes a new organization signing up.
type ProvisionRequest struct {
	Name          string
	AdminEmail    string
	AdminName     string
	TrialDuration time.Duration // zero uses billing.DefaultTrialDuration
}

// Provisioned is the result of ProvisionOrganization.
type Provisioned struct {
	Organization *billing.Organization `json:"organization"`
	Subscription *billing.Subscription `json:"subscription"`
	Admin        *billing.User         `json:"admin"`
}

// ProvisionOrganization creates an organization on a TRIAL subscription with
// one implicit seat, held by its first admin.
func ProvisionOrganization(ctx context.Context, store ProvisionStore, req ProvisionRequest, clock clockwork.Clock) (*Provisioned, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("organization name is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.AdminEmail))
	if err != nil {
		return nil, fmt.Errorf("invalid admin email: %w", err)
	}

	now := clock.Now().UTC()
	org := &billing.Organization{Name: name}
	sub := billing.NewTrialSubscription("", now, req.TrialDuration)
	if err := store.CreateOrganizationWithTrial(ctx, org, sub); err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}

	admin := &billing.User{
		OrganizationID: org.ID,
		Email:          addr.Address,
		DisplayName:    strings.TrimSpace(req.AdminName),
		Role:           billing.RoleAdmin,
		IsActive:       true,
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		return nil, fmt.Errorf("create admin user: %w", err)
	}

	log.Info().
		Str("organization_id", org.ID).
		Str("admin_user_id", admin.ID).
		Time("trial_end", *sub.TrialEndDate).
		Msg("Organization provisioned on trial")
	return &Provisioned{Organization: org, Subscription: sub, Admin: admin}, nil
}
