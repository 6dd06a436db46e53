package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default Store, backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the billing database in dir.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "billing.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open billing db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		email           TEXT NOT NULL,
		display_name    TEXT NOT NULL DEFAULT '',
		role            TEXT NOT NULL DEFAULT 'basic',
		is_active       INTEGER NOT NULL DEFAULT 1,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_users_organization_id ON users(organization_id);
	CREATE TABLE IF NOT EXISTS subscriptions (
		id                     TEXT PRIMARY KEY,
		organization_id        TEXT NOT NULL UNIQUE REFERENCES organizations(id),
		plan_name              TEXT NOT NULL,
		status                 TEXT NOT NULL,
		user_count             INTEGER,
		trial_start_date       INTEGER,
		trial_end_date         INTEGER,
		current_period_start   INTEGER,
		current_period_end     INTEGER,
		cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
		cancel_at              INTEGER,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		stripe_price_id        TEXT NOT NULL DEFAULT '',
		last_event_at          INTEGER,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_subscription_id ON subscriptions(stripe_subscription_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_customer_id ON subscriptions(stripe_customer_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
	CREATE TABLE IF NOT EXISTS billing_events (
		id              TEXT PRIMARY KEY,
		stripe_event_id TEXT NOT NULL,
		type            TEXT NOT NULL,
		organization_id TEXT NOT NULL DEFAULT '',
		outcome         TEXT NOT NULL,
		received_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_billing_events_stripe_event_id ON billing_events(stripe_event_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init billing schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateOrganizationWithTrial inserts an organization and its trial subscription.
func (s *SQLiteStore) CreateOrganizationWithTrial(ctx context.Context, org *billing.Organization, sub *billing.Subscription) error {
	if org == nil || sub == nil {
		return fmt.Errorf("organization and subscription are required")
	}
	now := time.Now().UTC()
	if org.ID == "" {
		org.ID = NewID()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	sub.OrganizationID = org.ID
	prepareSubscription(sub, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create organization: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		org.ID, org.Name, org.CreatedAt.Unix(), org.UpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("create organization: %w", mapSQLiteErr(err))
	}
	if err := upsertSubscriptionSQLite(ctx, tx, sub); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*billing.Organization, error) {
	var org billing.Organization
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	org.CreatedAt = time.Unix(createdAt, 0).UTC()
	org.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &org, nil
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *billing.User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	prepareUser(u, time.Now().UTC())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, email, display_name, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.OrganizationID, u.Email, u.DisplayName, string(u.Role), boolToInt(u.IsActive),
		u.CreatedAt.Unix(), u.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", mapSQLiteErr(err))
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*billing.User, error) {
	var u billing.User
	var role string
	var active int
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, email, display_name, role, is_active, created_at, updated_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.OrganizationID, &u.Email, &u.DisplayName, &role, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = billing.Role(role)
	u.IsActive = active != 0
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

// ListRoster returns every member's role and activity flag.
func (s *SQLiteStore) ListRoster(ctx context.Context, organizationID string) ([]billing.RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, is_active FROM users WHERE organization_id = ?`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	var roster []billing.RosterEntry
	for rows.Next() {
		var role string
		var active int
		if err := rows.Scan(&role, &active); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		roster = append(roster, billing.RosterEntry{Role: billing.Role(role), IsActive: active != 0})
	}
	return roster, rows.Err()
}

const subscriptionColumns = `id, organization_id, plan_name, status, user_count,
	trial_start_date, trial_end_date, current_period_start, current_period_end,
	cancel_at_period_end, cancel_at, stripe_customer_id, stripe_subscription_id,
	stripe_price_id, last_event_at, created_at, updated_at`

// GetSubscriptionByOrganization retrieves the organization's subscription.
func (s *SQLiteStore) GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE organization_id = ?`, organizationID)
	return scanSubscription(row)
}

// GetSubscriptionByStripeID retrieves a subscription by Stripe subscription ID.
func (s *SQLiteStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*billing.Subscription, error) {
	if strings.TrimSpace(stripeSubscriptionID) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = ?`, stripeSubscriptionID)
	return scanSubscription(row)
}

// GetSubscriptionByCustomerID retrieves a subscription by Stripe customer ID.
func (s *SQLiteStore) GetSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*billing.Subscription, error) {
	if strings.TrimSpace(stripeCustomerID) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_customer_id = ?
		ORDER BY updated_at DESC LIMIT 1`, stripeCustomerID)
	return scanSubscription(row)
}

// UpsertSubscription inserts or replaces the subscription for sub.OrganizationID.
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	prepareSubscription(sub, time.Now().UTC())
	return upsertSubscriptionSQLite(ctx, s.db, sub)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertSubscriptionSQLite(ctx context.Context, q queryRower, sub *billing.Subscription) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id) DO UPDATE SET
			plan_name = excluded.plan_name,
			status = excluded.status,
			user_count = excluded.user_count,
			trial_start_date = excluded.trial_start_date,
			trial_end_date = excluded.trial_end_date,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			cancel_at = excluded.cancel_at,
			stripe_customer_id = excluded.stripe_customer_id,
			stripe_subscription_id = excluded.stripe_subscription_id,
			stripe_price_id = excluded.stripe_price_id,
			last_event_at = excluded.last_event_at,
			updated_at = excluded.updated_at
		RETURNING id`,
		sub.ID, sub.OrganizationID, string(sub.PlanName), string(sub.Status), nullableInt(sub.UserCount),
		nullableTimeUnix(sub.TrialStartDate), nullableTimeUnix(sub.TrialEndDate),
		nullableTimeUnix(sub.CurrentPeriodStart), nullableTimeUnix(sub.CurrentPeriodEnd),
		boolToInt(sub.CancelAtPeriodEnd), nullableTimeUnix(sub.CancelAt),
		sub.StripeCustomerID, sub.StripeSubscriptionID, sub.StripePriceID,
		nullableTimeUnix(sub.LastEventAt), sub.CreatedAt.Unix(), sub.UpdatedAt.Unix(),
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", mapSQLiteErr(err))
	}
	return nil
}

// UpdateSubscriptionQuantity records a new purchased seat count.
func (s *SQLiteStore) UpdateSubscriptionQuantity(ctx context.Context, organizationID string, userCount int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET user_count = ?, updated_at = ? WHERE organization_id = ?`,
		userCount, at.UTC().Unix(), organizationID)
	if err != nil {
		return fmt.Errorf("update subscription quantity: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("subscription for organization %q not found", organizationID)
	}
	return nil
}

// RestrictSubscription demotes the subscription unless it is already RESTRICTED.
func (s *SQLiteStore) RestrictSubscription(ctx context.Context, organizationID string, r billing.Restriction, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET plan_name = ?, status = ?, updated_at = ?
		WHERE organization_id = ? AND plan_name <> ?`,
		string(r.Plan), string(r.Status), at.UTC().Unix(), organizationID, string(billing.PlanRestricted))
	if err != nil {
		return false, fmt.Errorf("restrict subscription: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListExpiredTrials returns trialing subscriptions whose trial end has passed.
func (s *SQLiteStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ? AND plan_name <> ?
		AND COALESCE(trial_end_date, COALESCE(trial_start_date, created_at) + ?) <= ?
		ORDER BY created_at`,
		string(billing.StatusTrialing), string(billing.PlanRestricted), trialDurationSeconds, now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListLapsedCancellations returns canceled or unpaid subscriptions whose
// paid-through period has ended.
func (s *SQLiteStore) ListLapsedCancellations(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN (?, ?) AND plan_name <> ?
		AND (current_period_end IS NULL OR current_period_end < ?)
		ORDER BY created_at`,
		string(billing.StatusCanceled), string(billing.StatusUnpaid), string(billing.PlanRestricted), now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list lapsed cancellations: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// CountByPlan returns a map of plan -> subscription count.
func (s *SQLiteStore) CountByPlan(ctx context.Context) (map[billing.PlanName]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plan_name, COUNT(*) FROM subscriptions GROUP BY plan_name`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions by plan: %w", err)
	}
	defer rows.Close()

	counts := make(map[billing.PlanName]int)
	for rows.Next() {
		var plan string
		var count int
		if err := rows.Scan(&plan, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[billing.PlanName(plan)] = count
	}
	return counts, rows.Err()
}

// RecordEvent appends a billing event audit row.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *BillingEvent) error {
	if ev == nil {
		return fmt.Errorf("billing event is nil")
	}
	prepareEvent(ev)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_events (id, stripe_event_id, type, organization_id, outcome, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.StripeEventID, ev.Type, ev.OrganizationID, string(ev.Outcome), ev.ReceivedAt.Unix())
	if err != nil {
		return fmt.Errorf("record billing event: %w", err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(s scanner) (*billing.Subscription, error) {
	var sub billing.Subscription
	var plan, status string
	var userCount sql.NullInt64
	var trialStart, trialEnd, periodStart, periodEnd, cancelAt, lastEvent sql.NullInt64
	var cancelAtPeriodEnd int
	var createdAt, updatedAt int64

	err := s.Scan(
		&sub.ID, &sub.OrganizationID, &plan, &status, &userCount,
		&trialStart, &trialEnd, &periodStart, &periodEnd,
		&cancelAtPeriodEnd, &cancelAt, &sub.StripeCustomerID, &sub.StripeSubscriptionID,
		&sub.StripePriceID, &lastEvent, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.PlanName = billing.PlanName(plan)
	sub.Status = billing.Status(status)
	if userCount.Valid {
		sub.UserCount = billing.Seats(int(userCount.Int64))
	}
	sub.TrialStartDate = unixPtr(trialStart)
	sub.TrialEndDate = unixPtr(trialEnd)
	sub.CurrentPeriodStart = unixPtr(periodStart)
	sub.CurrentPeriodEnd = unixPtr(periodEnd)
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd != 0
	sub.CancelAt = unixPtr(cancelAt)
	sub.LastEventAt = unixPtr(lastEvent)
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*billing.Subscription, error) {
	var subs []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func mapSQLiteErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
