package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/access"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/seats"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/usercount"
	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
)

// AccessChecker answers access and status questions for a user.
type AccessChecker interface {
	CheckAccess(ctx context.Context, userID string) (*access.Result, error)
	SubscriptionStatus(ctx context.Context, userID string) (*access.StatusResult, error)
}

// Counter counts billable users for read paths.
type Counter interface {
	CountOrFallback(ctx context.Context, organizationID string) (*usercount.Result, error)
}

// SeatService runs the seat-aware member operations.
type SeatService interface {
	AddUser(ctx context.Context, in seats.AddUserInput) (*seats.AddUserOutcome, error)
	Preview(ctx context.Context, callerUserID, organizationID string) (*seats.PreviewResult, error)
	Summary(ctx context.Context, callerUserID, organizationID string) (*seats.Summary, error)
}

// HandleUserCount returns the billable user count and pricing of an
// organization. The caller must belong to it.
// Route: GET /api/organizations/{organization_id}/user-count
func HandleUserCount(users seats.UserGetter, counter Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		orgID := strings.TrimSpace(r.PathValue("organization_id"))
		if err := seats.AuthorizeMember(r.Context(), users, "count_users", CallerID(r.Context()), orgID); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := counter.CountOrFallback(r.Context(), orgID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleSubscriptionStatus returns the caller's subscription summary.
// Route: GET /api/subscription/status
func HandleSubscriptionStatus(checker AccessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		userID, err := subjectUser(r.Context(), r.URL.Query().Get("userId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := checker.SubscriptionStatus(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type checkAccessRequest struct {
	UserID string `json:"userId" validate:"omitempty,max=128"`
}

// HandleCheckAccess evaluates access for the caller, applying any RESTRICTED
// transition that is due.
// Route: POST /api/subscription/check-access
func HandleCheckAccess(checker AccessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req checkAccessRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		userID, err := subjectUser(r.Context(), req.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := checker.CheckAccess(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type updateQuantityRequest struct {
	OrganizationID    string `json:"organizationId" validate:"required,max=128"`
	NewUserCount      int    `json:"newUserCount" validate:"required,min=1,max=10000"`
	ProrationBehavior string `json:"prorationBehavior" validate:"omitempty,oneof=create_prorations always_invoice none"`
}

type updateQuantityResponse struct {
	Success bool `json:"success"`
	*seats.QuantityUpdateResult
}

// HandleUpdateQuantity changes the purchased seat count.
// Route: POST /api/subscription/quantity
func HandleUpdateQuantity(quantity seats.QuantityUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req updateQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := quantity.UpdateQuantity(r.Context(), seats.QuantityUpdateRequest{
			CallerUserID:      CallerID(r.Context()),
			OrganizationID:    strings.TrimSpace(req.OrganizationID),
			NewUserCount:      req.NewUserCount,
			ProrationBehavior: billing.ProrationBehavior(req.ProrationBehavior),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updateQuantityResponse{Success: true, QuantityUpdateResult: res})
	}
}

// HandleSeatPreview returns the cost of adding one billable user.
// Route: POST /api/organizations/{organization_id}/seats/preview
func HandleSeatPreview(svc SeatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		res, err := svc.Preview(r.Context(), CallerID(r.Context()), strings.TrimSpace(r.PathValue("organization_id")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type addUserRequest struct {
	Email          string `json:"email" validate:"required,email,max=254"`
	DisplayName    string `json:"displayName" validate:"max=200"`
	Role           string `json:"role" validate:"required,oneof=admin verifier basic"`
	ConfirmUpgrade bool   `json:"confirmUpgrade"`
}

// HandleAddUser adds a member, buying a seat first when one is needed and
// the caller confirmed the upgrade. Without confirmation an upgrade-needing
// request answers 200 with the preview and creates nothing.
// Route: POST /api/organizations/{organization_id}/users
func HandleAddUser(svc SeatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req addUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := svc.AddUser(r.Context(), seats.AddUserInput{
			CallerUserID:   CallerID(r.Context()),
			OrganizationID: strings.TrimSpace(r.PathValue("organization_id")),
			User: seats.NewUser{
				Email:       req.Email,
				DisplayName: req.DisplayName,
				Role:        billing.Role(req.Role),
			},
			ConfirmUpgrade: req.ConfirmUpgrade,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if out.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, out)
	}
}

// HandleSeatSummary returns the seat overview of an organization.
// Route: GET /api/organizations/{organization_id}/seats
func HandleSeatSummary(svc SeatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		res, err := svc.Summary(r.Context(), CallerID(r.Context()), strings.TrimSpace(r.PathValue("organization_id")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealthz is the liveness probe.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadyz reports ready once storage answers a ping.
func HandleReadyz(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// subjectUser returns the user an access question is about. Callers may
// only ask about themselves.
func subjectUser(ctx context.Context, requested string) (string, error) {
	caller := CallerID(ctx)
	if caller == "" {
		return "", cperrors.New(cperrors.KindUnauthorized, "resolve_subject", "Authentication required", nil)
	}
	requested = strings.TrimSpace(requested)
	if requested != "" && requested != caller {
		return "", cperrors.Forbidden("resolve_subject", "Cannot query another user's subscription")
	}
	return caller, nil
}
