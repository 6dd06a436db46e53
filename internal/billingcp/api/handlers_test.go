package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/access"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/registry"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/seats"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/usercount"
	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	result *access.Result
	status *access.StatusResult
	err    error
	asked  string
}

func (s *stubChecker) CheckAccess(_ context.Context, userID string) (*access.Result, error) {
	s.asked = userID
	return s.result, s.err
}

func (s *stubChecker) SubscriptionStatus(_ context.Context, userID string) (*access.StatusResult, error) {
	s.asked = userID
	return s.status, s.err
}

type stubQuantity struct {
	got seats.QuantityUpdateRequest
	res *seats.QuantityUpdateResult
	err error
}

func (s *stubQuantity) UpdateQuantity(_ context.Context, req seats.QuantityUpdateRequest) (*seats.QuantityUpdateResult, error) {
	s.got = req
	return s.res, s.err
}

type stubSeats struct {
	addIn   seats.AddUserInput
	outcome *seats.AddUserOutcome
	err     error
}

func (s *stubSeats) AddUser(_ context.Context, in seats.AddUserInput) (*seats.AddUserOutcome, error) {
	s.addIn = in
	return s.outcome, s.err
}

func (s *stubSeats) Preview(context.Context, string, string) (*seats.PreviewResult, error) {
	return &seats.PreviewResult{NeedsUpgrade: true, CanUpgrade: true}, s.err
}

func (s *stubSeats) Summary(_ context.Context, _, orgID string) (*seats.Summary, error) {
	return &seats.Summary{OrganizationID: orgID}, s.err
}

func serve(t *testing.T, pattern string, h http.Handler, method, target, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(pattern, h)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if caller != "" {
		req = req.WithContext(WithCallerID(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleCheckAccess(t *testing.T) {
	checker := &stubChecker{result: &access.Result{HasAccess: false, IsExpired: true, Reason: billing.ReasonTrialExpired}}
	h := HandleCheckAccess(checker)

	rec := serve(t, "/api/subscription/check-access", h, http.MethodPost, "/api/subscription/check-access", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["hasAccess"])
	assert.Equal(t, true, body["isExpired"])
	assert.Equal(t, "user-1", checker.asked)

	rec = serve(t, "/api/subscription/check-access", h, http.MethodPost, "/api/subscription/check-access", "user-1", `{"userId":"user-2"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, "/api/subscription/check-access", h, http.MethodPost, "/api/subscription/check-access", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, "/api/subscription/check-access", h, http.MethodGet, "/api/subscription/check-access", "user-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSubscriptionStatus(t *testing.T) {
	checker := &stubChecker{status: &access.StatusResult{HasActiveSubscription: true, IsInTrial: true, TrialDaysRemaining: 9}}

	rec := serve(t, "/api/subscription/status", HandleSubscriptionStatus(checker), http.MethodGet, "/api/subscription/status", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(9), body["trialDaysRemaining"])
	assert.Equal(t, true, body["isInTrial"])

	checker.err = cperrors.NotFound("subscription_status", "User not found")
	rec = serve(t, "/api/subscription/status", HandleSubscriptionStatus(checker), http.MethodGet, "/api/subscription/status", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decodeBody(t, rec)["error"])
}

func TestHandleUpdateQuantityErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", cperrors.NotFound("update_quantity", "Subscription not found"), http.StatusNotFound, "not_found"},
		{"inactive", cperrors.InvalidState("update_quantity", seats.MessageInactiveSubscription), http.StatusBadRequest, "invalid_state"},
		{"forbidden", cperrors.Forbidden("update_quantity", "Only organization admins can manage seats"), http.StatusForbidden, "forbidden"},
		{"stripe", cperrors.New(cperrors.KindExternalService, "update_subscription_item", "card declined", nil).WithDetail("code", "card_declined"), http.StatusBadGateway, "external_service"},
		{"partial", cperrors.Partial("update_quantity", "Stripe was updated but the local subscription record was not", errors.New("db down")), http.StatusInternalServerError, "partial_application"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &stubQuantity{err: tt.err}
			rec := serve(t, "/api/subscription/quantity", HandleUpdateQuantity(q), http.MethodPost,
				"/api/subscription/quantity", "admin-1", `{"organizationId":"org1","newUserCount":3}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, rec)["code"])
		})
	}

	q := &stubQuantity{err: cperrors.Partial("update_quantity", "partial", errors.New("db down"))}
	rec := serve(t, "/api/subscription/quantity", HandleUpdateQuantity(q), http.MethodPost,
		"/api/subscription/quantity", "admin-1", `{"organizationId":"org1","newUserCount":3}`)
	details, ok := decodeBody(t, rec)["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["stripe_updated"])
}

func TestHandleUpdateQuantitySuccess(t *testing.T) {
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	q := &stubQuantity{res: &seats.QuantityUpdateResult{
		OldUserCount: 2, NewUserCount: 3, StripeSubscriptionID: "sub_123", UpdatedAt: at,
	}}

	rec := serve(t, "/api/subscription/quantity", HandleUpdateQuantity(q), http.MethodPost,
		"/api/subscription/quantity", "admin-1", `{"organizationId":" org1 ","newUserCount":3,"prorationBehavior":"always_invoice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["old_user_count"])
	assert.Equal(t, float64(3), body["new_user_count"])
	assert.Equal(t, "sub_123", body["stripe_subscription_id"])

	assert.Equal(t, "admin-1", q.got.CallerUserID)
	assert.Equal(t, "org1", q.got.OrganizationID)
	assert.Equal(t, billing.ProrationAlwaysInvoice, q.got.ProrationBehavior)
}

func TestHandleUpdateQuantityValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing organization", `{"newUserCount":3}`, "organizationId"},
		{"zero seats", `{"organizationId":"org1","newUserCount":0}`, "newUserCount"},
		{"bad proration", `{"organizationId":"org1","newUserCount":2,"prorationBehavior":"later"}`, "prorationBehavior"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &stubQuantity{}
			rec := serve(t, "/api/subscription/quantity", HandleUpdateQuantity(q), http.MethodPost,
				"/api/subscription/quantity", "admin-1", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			details, ok := decodeBody(t, rec)["details"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, details, tt.field)
			assert.Empty(t, q.got.OrganizationID, "service must not be called")
		})
	}

	rec := serve(t, "/api/subscription/quantity", HandleUpdateQuantity(&stubQuantity{}), http.MethodPost,
		"/api/subscription/quantity", "admin-1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAddUser(t *testing.T) {
	const pattern = "/api/organizations/{organization_id}/users"

	svc := &stubSeats{outcome: &seats.AddUserOutcome{Created: true}}
	rec := serve(t, pattern, HandleAddUser(svc), http.MethodPost, "/api/organizations/org1/users", "admin-1",
		`{"email":"new@example.com","role":"verifier","confirmUpgrade":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "org1", svc.addIn.OrganizationID)
	assert.Equal(t, billing.RoleVerifier, svc.addIn.User.Role)
	assert.True(t, svc.addIn.ConfirmUpgrade)

	svc.outcome = &seats.AddUserOutcome{NeedsConfirmation: true}
	rec = serve(t, pattern, HandleAddUser(svc), http.MethodPost, "/api/organizations/org1/users", "admin-1",
		`{"email":"new@example.com","role":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["needsConfirmation"])

	rec = serve(t, pattern, HandleAddUser(svc), http.MethodPost, "/api/organizations/org1/users", "admin-1",
		`{"email":"not-an-email","role":"owner"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeBody(t, rec)["details"].(map[string]any)
	assert.Equal(t, "email", details["email"])
	assert.Equal(t, "oneof", details["role"])

	svc.err = cperrors.New(cperrors.KindStaleData, "add_user", "User count is unavailable", nil).WithCode(seats.CodeStaleUserCount)
	rec = serve(t, pattern, HandleAddUser(svc), http.MethodPost, "/api/organizations/org1/users", "admin-1",
		`{"email":"new@example.com","role":"admin","confirmUpgrade":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, seats.CodeStaleUserCount, decodeBody(t, rec)["code"])
}

func TestHandleSeatPreviewAndSummary(t *testing.T) {
	svc := &stubSeats{}

	rec := serve(t, "/api/organizations/{organization_id}/seats/preview", HandleSeatPreview(svc), http.MethodPost,
		"/api/organizations/org1/seats/preview", "admin-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["needsUpgrade"])

	rec = serve(t, "/api/organizations/{organization_id}/seats", HandleSeatSummary(svc), http.MethodGet,
		"/api/organizations/org1/seats", "admin-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "org1", decodeBody(t, rec)["organizationId"])
}

func TestHandleUserCountAgainstStore(t *testing.T) {
	store, err := registry.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	org := &billing.Organization{ID: "org1", Name: "Acme"}
	require.NoError(t, store.CreateOrganizationWithTrial(ctx, org, billing.NewTrialSubscription("org1", time.Now(), 0)))
	for _, u := range []*billing.User{
		{ID: "admin-1", OrganizationID: "org1", Email: "a@example.com", Role: billing.RoleAdmin, IsActive: true},
		{ID: "ver-1", OrganizationID: "org1", Email: "v@example.com", Role: billing.RoleVerifier, IsActive: false},
		{ID: "basic-1", OrganizationID: "org1", Email: "b@example.com", Role: billing.RoleBasic, IsActive: true},
	} {
		require.NoError(t, store.CreateUser(ctx, u))
	}

	h := HandleUserCount(store, usercount.New(store, nil))
	rec := serve(t, "/api/organizations/{organization_id}/user-count", h, http.MethodGet,
		"/api/organizations/org1/user-count", "basic-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["userCount"])
	assert.Equal(t, float64(1), body["adminCount"])
	assert.Equal(t, float64(1), body["verifierCount"])
	assert.Contains(t, body, "pricing")

	rec = serve(t, "/api/organizations/{organization_id}/user-count", h, http.MethodGet,
		"/api/organizations/org2/user-count", "basic-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthProbes(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HandleReadyz(stubPinger{})(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HandleReadyz(stubPinger{err: errors.New("closed")})(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
