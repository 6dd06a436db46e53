package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL, compatible with a Supabase
// project database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and ensures the billing schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		email           TEXT NOT NULL UNIQUE,
		display_name    TEXT NOT NULL DEFAULT '',
		role            TEXT NOT NULL DEFAULT 'basic',
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_organization_id ON users(organization_id);
	CREATE TABLE IF NOT EXISTS subscriptions (
		id                     TEXT PRIMARY KEY,
		organization_id        TEXT NOT NULL UNIQUE REFERENCES organizations(id),
		plan_name              TEXT NOT NULL,
		status                 TEXT NOT NULL,
		user_count             INTEGER,
		trial_start_date       TIMESTAMPTZ,
		trial_end_date         TIMESTAMPTZ,
		current_period_start   TIMESTAMPTZ,
		current_period_end     TIMESTAMPTZ,
		cancel_at_period_end   BOOLEAN NOT NULL DEFAULT FALSE,
		cancel_at              TIMESTAMPTZ,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		stripe_price_id        TEXT NOT NULL DEFAULT '',
		last_event_at          TIMESTAMPTZ,
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_subscription_id ON subscriptions(stripe_subscription_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_customer_id ON subscriptions(stripe_customer_id);
	CREATE TABLE IF NOT EXISTS billing_events (
		id              TEXT PRIMARY KEY,
		stripe_event_id TEXT NOT NULL,
		type            TEXT NOT NULL,
		organization_id TEXT NOT NULL DEFAULT '',
		outcome         TEXT NOT NULL,
		received_at     TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_billing_events_stripe_event_id ON billing_events(stripe_event_id);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init billing schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateOrganizationWithTrial(ctx context.Context, org *billing.Organization, sub *billing.Subscription) error {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create organization: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO organizations (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.CreatedAt, org.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create organization: %w", mapPgErr(err))
	}
	if err := upsertSubscriptionPg(ctx, tx, sub); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*billing.Organization, error) {
	var org billing.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *billing.User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	prepareUser(u, time.Now().UTC())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, organization_id, email, display_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.OrganizationID, u.Email, u.DisplayName, string(u.Role), u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", mapPgErr(err))
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*billing.User, error) {
	var u billing.User
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, email, display_name, role, is_active, created_at, updated_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.OrganizationID, &u.Email, &u.DisplayName, &role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = billing.Role(role)
	return &u, nil
}

func (s *PostgresStore) ListRoster(ctx context.Context, organizationID string) ([]billing.RosterEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT role, is_active FROM users WHERE organization_id = $1`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	var roster []billing.RosterEntry
	for rows.Next() {
		var role string
		var active bool
		if err := rows.Scan(&role, &active); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		roster = append(roster, billing.RosterEntry{Role: billing.Role(role), IsActive: active})
	}
	return roster, rows.Err()
}

func (s *PostgresStore) GetSubscriptionByOrganization(ctx context.Context, organizationID string) (*billing.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE organization_id = $1`, organizationID)
	return scanSubscriptionPg(row)
}

func (s *PostgresStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*billing.Subscription, error) {
	if strings.TrimSpace(stripeSubscriptionID) == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubscriptionID)
	return scanSubscriptionPg(row)
}

func (s *PostgresStore) GetSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*billing.Subscription, error) {
	if strings.TrimSpace(stripeCustomerID) == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_customer_id = $1
		ORDER BY updated_at DESC LIMIT 1`, stripeCustomerID)
	return scanSubscriptionPg(row)
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	prepareSubscription(sub, time.Now().UTC())
	return upsertSubscriptionPg(ctx, s.pool, sub)
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertSubscriptionPg(ctx context.Context, q pgQueryRower, sub *billing.Subscription) error {
	err := q.QueryRow(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (organization_id) DO UPDATE SET
			plan_name = EXCLUDED.plan_name,
			status = EXCLUDED.status,
			user_count = EXCLUDED.user_count,
			trial_start_date = EXCLUDED.trial_start_date,
			trial_end_date = EXCLUDED.trial_end_date,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			cancel_at = EXCLUDED.cancel_at,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_price_id = EXCLUDED.stripe_price_id,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		sub.ID, sub.OrganizationID, string(sub.PlanName), string(sub.Status), sub.UserCount,
		sub.TrialStartDate, sub.TrialEndDate, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CancelAt, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.StripePriceID, sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", mapPgErr(err))
	}
	return nil
}

func (s *PostgresStore) UpdateSubscriptionQuantity(ctx context.Context, organizationID string, userCount int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET user_count = $1, updated_at = $2 WHERE organization_id = $3`,
		userCount, at.UTC(), organizationID)
	if err != nil {
		return fmt.Errorf("update subscription quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription for organization %q not found", organizationID)
	}
	return nil
}

func (s *PostgresStore) RestrictSubscription(ctx context.Context, organizationID string, r billing.Restriction, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET plan_name = $1, status = $2, updated_at = $3
		WHERE organization_id = $4 AND plan_name <> $5`,
		string(r.Plan), string(r.Status), at.UTC(), organizationID, string(billing.PlanRestricted))
	if err != nil {
		return false, fmt.Errorf("restrict subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = $1 AND plan_name <> $2
		AND COALESCE(trial_end_date, COALESCE(trial_start_date, created_at) + make_interval(secs => $3)) <= $4
		ORDER BY created_at`,
		string(billing.StatusTrialing), string(billing.PlanRestricted), float64(trialDurationSeconds), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}
	defer rows.Close()
	return scanSubscriptionsPg(rows)
}

func (s *PostgresStore) ListLapsedCancellations(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ($1, $2) AND plan_name <> $3
		AND (current_period_end IS NULL OR current_period_end < $4)
		ORDER BY created_at`,
		string(billing.StatusCanceled), string(billing.StatusUnpaid), string(billing.PlanRestricted), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list lapsed cancellations: %w", err)
	}
	defer rows.Close()
	return scanSubscriptionsPg(rows)
}

func (s *PostgresStore) CountByPlan(ctx context.Context) (map[billing.PlanName]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT plan_name, COUNT(*) FROM subscriptions GROUP BY plan_name`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions by plan: %w", err)
	}
	defer rows.Close()

	counts := make(map[billing.PlanName]int)
	for rows.Next() {
		var plan string
		var count int64
		if err := rows.Scan(&plan, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[billing.PlanName(plan)] = int(count)
	}
	return counts, rows.Err()
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *BillingEvent) error {
	if ev == nil {
		return fmt.Errorf("billing event is nil")
	}
	prepareEvent(ev)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_events (id, stripe_event_id, type, organization_id, outcome, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.StripeEventID, ev.Type, ev.OrganizationID, string(ev.Outcome), ev.ReceivedAt)
	if err != nil {
		return fmt.Errorf("record billing event: %w", err)
	}
	return nil
}

func scanSubscriptionPg(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	var plan, status string
	var userCount *int32

	err := row.Scan(
		&sub.ID, &sub.OrganizationID, &plan, &status, &userCount,
		&sub.TrialStartDate, &sub.TrialEndDate, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.CancelAt, &sub.StripeCustomerID, &sub.StripeSubscriptionID,
		&sub.StripePriceID, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.PlanName = billing.PlanName(plan)
	sub.Status = billing.Status(status)
	if userCount != nil {
		sub.UserCount = billing.Seats(int(*userCount))
	}
	return &sub, nil
}

func scanSubscriptionsPg(rows pgx.Rows) ([]*billing.Subscription, error) {
	var subs []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionPg(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
