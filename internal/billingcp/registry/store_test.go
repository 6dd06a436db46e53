package registry

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// storeUnderTest returns every Store implementation reachable from this
// environment. PostgreSQL is exercised when BILLING_TEST_POSTGRES_DSN is set.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{"sqlite": newTestStore(t)}
	if dsn := os.Getenv("BILLING_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := NewPostgresStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("NewPostgresStore: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

func seedOrganization(t *testing.T, s Store, now time.Time) (*billing.Organization, *billing.Subscription) {
	t.Helper()
	org := &billing.Organization{Name: "Acme"}
	sub := billing.NewTrialSubscription("", now, 0)
	if err := s.CreateOrganizationWithTrial(context.Background(), org, sub); err != nil {
		t.Fatalf("CreateOrganizationWithTrial: %v", err)
	}
	return org, sub
}

func TestOrganizationAndTrial(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			org, sub := seedOrganization(t, s, now)

			if org.ID == "" || sub.ID == "" {
				t.Fatal("expected generated ids")
			}

			gotOrg, err := s.GetOrganization(ctx, org.ID)
			if err != nil {
				t.Fatalf("GetOrganization: %v", err)
			}
			if gotOrg == nil || gotOrg.Name != "Acme" {
				t.Fatalf("unexpected organization %+v", gotOrg)
			}

			got, err := s.GetSubscriptionByOrganization(ctx, org.ID)
			if err != nil {
				t.Fatalf("GetSubscriptionByOrganization: %v", err)
			}
			if got == nil {
				t.Fatal("expected trial subscription")
			}
			if got.PlanName != billing.PlanTrial || got.Status != billing.StatusTrialing {
				t.Errorf("plan/status = %s/%s", got.PlanName, got.Status)
			}
			if got.UserCount == nil || *got.UserCount != 1 {
				t.Errorf("user_count = %v, want 1", got.UserCount)
			}
			if got.TrialEndDate == nil || got.TrialEndDate.Unix() != now.Add(billing.DefaultTrialDuration).Unix() {
				t.Errorf("trial_end_date = %v", got.TrialEndDate)
			}
			if got.CurrentPeriodEnd != nil {
				t.Errorf("expected no period end, got %v", got.CurrentPeriodEnd)
			}

			missing, err := s.GetOrganization(ctx, "org-missing")
			if err != nil || missing != nil {
				t.Fatalf("expected (nil, nil) for missing organization, got (%v, %v)", missing, err)
			}
		})
	}
}

func TestUsersAndRoster(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			org, _ := seedOrganization(t, s, time.Now())

			members := []*billing.User{
				{OrganizationID: org.ID, Email: " Admin-" + org.ID + "@Example.com", Role: billing.RoleAdmin, IsActive: true},
				{OrganizationID: org.ID, Email: "verifier-" + org.ID + "@example.com", Role: billing.RoleVerifier, IsActive: false},
				{OrganizationID: org.ID, Email: "basic-" + org.ID + "@example.com", Role: billing.RoleBasic, IsActive: true},
			}
			for _, u := range members {
				if err := s.CreateUser(ctx, u); err != nil {
					t.Fatalf("CreateUser: %v", err)
				}
			}

			got, err := s.GetUser(ctx, members[0].ID)
			if err != nil || got == nil {
				t.Fatalf("GetUser: %v %v", got, err)
			}
			if got.Email != "admin-"+org.ID+"@example.com" {
				t.Errorf("email not normalized: %q", got.Email)
			}
			if got.Role != billing.RoleAdmin || !got.IsActive {
				t.Errorf("unexpected user %+v", got)
			}

			roster, err := s.ListRoster(ctx, org.ID)
			if err != nil {
				t.Fatalf("ListRoster: %v", err)
			}
			if len(roster) != 3 {
				t.Fatalf("expected 3 roster entries, got %d", len(roster))
			}

			dup := &billing.User{OrganizationID: org.ID, Email: members[2].Email, Role: billing.RoleBasic}
			if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}
		})
	}
}

func TestUpsertSubscriptionAndLookups(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			org, trial := seedOrganization(t, s, now)

			end := now.Add(30 * 24 * time.Hour)
			paid := trial.Clone()
			paid.ID = ""
			paid.PlanName = billing.PlanProfessional
			paid.Status = billing.StatusActive
			paid.UserCount = billing.Seats(5)
			paid.TrialStartDate = nil
			paid.TrialEndDate = nil
			paid.CurrentPeriodStart = &now
			paid.CurrentPeriodEnd = &end
			paid.StripeCustomerID = "cus_" + org.ID
			paid.StripeSubscriptionID = "sub_" + org.ID
			paid.StripePriceID = "price_pro"
			paid.LastEventAt = &now

			if err := s.UpsertSubscription(ctx, paid); err != nil {
				t.Fatalf("UpsertSubscription: %v", err)
			}
			if paid.ID != trial.ID {
				t.Errorf("upsert changed row id: %s -> %s", trial.ID, paid.ID)
			}

			byStripe, err := s.GetSubscriptionByStripeID(ctx, "sub_"+org.ID)
			if err != nil || byStripe == nil {
				t.Fatalf("GetSubscriptionByStripeID: %v %v", byStripe, err)
			}
			if byStripe.OrganizationID != org.ID || byStripe.PlanName != billing.PlanProfessional {
				t.Errorf("unexpected subscription %+v", byStripe)
			}
			if byStripe.TrialEndDate != nil {
				t.Errorf("expected trial end cleared, got %v", byStripe.TrialEndDate)
			}

			byCustomer, err := s.GetSubscriptionByCustomerID(ctx, "cus_"+org.ID)
			if err != nil || byCustomer == nil || byCustomer.ID != trial.ID {
				t.Fatalf("GetSubscriptionByCustomerID: %v %v", byCustomer, err)
			}

			none, err := s.GetSubscriptionByStripeID(ctx, "")
			if err != nil || none != nil {
				t.Fatalf("empty stripe id must not match: %v %v", none, err)
			}

			if err := s.UpdateSubscriptionQuantity(ctx, org.ID, 6, now); err != nil {
				t.Fatalf("UpdateSubscriptionQuantity: %v", err)
			}
			updated, _ := s.GetSubscriptionByOrganization(ctx, org.ID)
			if updated.UserCount == nil || *updated.UserCount != 6 {
				t.Errorf("user_count = %v, want 6", updated.UserCount)
			}
			if err := s.UpdateSubscriptionQuantity(ctx, "org-missing", 2, now); err == nil {
				t.Error("expected error updating a missing subscription")
			}
		})
	}
}

func TestRestrictSubscriptionIsConditional(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			org, _ := seedOrganization(t, s, time.Now().Add(-30*24*time.Hour))
			r := billing.Restriction{Plan: billing.PlanRestricted, Status: billing.StatusUnpaid}

			changed, err := s.RestrictSubscription(ctx, org.ID, r, time.Now())
			if err != nil || !changed {
				t.Fatalf("first restriction: changed=%v err=%v", changed, err)
			}
			changed, err = s.RestrictSubscription(ctx, org.ID, r, time.Now())
			if err != nil || changed {
				t.Fatalf("second restriction must be a no-op: changed=%v err=%v", changed, err)
			}

			got, _ := s.GetSubscriptionByOrganization(ctx, org.ID)
			if got.PlanName != billing.PlanRestricted || got.Status != billing.StatusUnpaid {
				t.Errorf("plan/status = %s/%s", got.PlanName, got.Status)
			}
		})
	}
}

func TestListExpiredTrialsAndLapsedCancellations(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			expired, _ := seedOrganization(t, s, now.Add(-20*24*time.Hour))
			running, _ := seedOrganization(t, s, now.Add(-2*24*time.Hour))

			lapsedOrg, lapsed := seedOrganization(t, s, now.Add(-90*24*time.Hour))
			past := now.Add(-24 * time.Hour)
			lapsed.PlanName = billing.PlanBasic
			lapsed.Status = billing.StatusCanceled
			lapsed.CurrentPeriodEnd = &past
			if err := s.UpsertSubscription(ctx, lapsed); err != nil {
				t.Fatal(err)
			}

			graceOrg, grace := seedOrganization(t, s, now.Add(-90*24*time.Hour))
			future := now.Add(24 * time.Hour)
			grace.PlanName = billing.PlanBasic
			grace.Status = billing.StatusCanceled
			grace.CurrentPeriodEnd = &future
			if err := s.UpsertSubscription(ctx, grace); err != nil {
				t.Fatal(err)
			}

			trials, err := s.ListExpiredTrials(ctx, now)
			if err != nil {
				t.Fatalf("ListExpiredTrials: %v", err)
			}
			if !containsOrg(trials, expired.ID) || containsOrg(trials, running.ID) {
				t.Errorf("unexpected expired trials %v", orgIDs(trials))
			}

			lapses, err := s.ListLapsedCancellations(ctx, now)
			if err != nil {
				t.Fatalf("ListLapsedCancellations: %v", err)
			}
			if !containsOrg(lapses, lapsedOrg.ID) || containsOrg(lapses, graceOrg.ID) {
				t.Errorf("unexpected lapsed cancellations %v", orgIDs(lapses))
			}

			counts, err := s.CountByPlan(ctx)
			if err != nil {
				t.Fatalf("CountByPlan: %v", err)
			}
			if counts[billing.PlanTrial] < 2 || counts[billing.PlanBasic] < 2 {
				t.Errorf("unexpected plan counts %v", counts)
			}
		})
	}
}

func TestRecordEvent(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ev := &BillingEvent{StripeEventID: "evt_1", Type: "invoice.paid", Outcome: EventOutcomeApplied}
			if err := s.RecordEvent(context.Background(), ev); err != nil {
				t.Fatalf("RecordEvent: %v", err)
			}
			if len(ev.ID) != 26 {
				t.Errorf("expected ULID id, got %q", ev.ID)
			}
			if ev.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should be set")
			}
		})
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewSQLiteStore_InvalidDir(t *testing.T) {
	if _, err := NewSQLiteStore("/proc/nonexistent/path"); err == nil {
		t.Log("Skipping: path creation succeeded unexpectedly")
	}
}

func containsOrg(subs []*billing.Subscription, orgID string) bool {
	for _, s := range subs {
		if s.OrganizationID == orgID {
			return true
		}
	}
	return false
}

func orgIDs(subs []*billing.Subscription) []string {
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.OrganizationID)
	}
	return ids
}
