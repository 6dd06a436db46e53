package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/access"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is how often the sweeper runs when not configured.
const DefaultSweepInterval = 1 * time.Hour

// SweepStore lists subscriptions that may owe a RESTRICTED transition.
type SweepStore interface {
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*billing.Subscription, error)
	ListLapsedCancellations(ctx context.Context, now time.Time) ([]*billing.Subscription, error)
}

// Enforcer applies the access decision to a stored subscription.
type Enforcer interface {
	Enforce(ctx context.Context, sub *billing.Subscription, trigger string) *access.Result
}

// Sweeper periodically restricts expired trials and cancellations whose paid
// period has ended, so organizations that never sign in are demoted too.
type Sweeper struct {
	store    SweepStore
	enforcer Enforcer
	clock    clockwork.Clock
	interval time.Duration
}

// NewSweeper creates a Sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewSweeper(store SweepStore, enforcer Enforcer, clock clockwork.Clock, interval time.Duration) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, enforcer: enforcer, clock: clock, interval: interval}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Subscription sweeper started")

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Subscription sweeper stopped")
			return
		case <-ticker.Chan():
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Subscription sweep failed")
			}
		}
	}
}

// SweepOnce evaluates every candidate subscription once and returns how many
// were denied access.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	trials, err := s.store.ListExpiredTrials(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired trials: %w", err)
	}
	lapsed, err := s.store.ListLapsedCancellations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list lapsed cancellations: %w", err)
	}

	denied := 0
	for _, sub := range append(trials, lapsed...) {
		if ctx.Err() != nil {
			return denied, ctx.Err()
		}
		if sub == nil {
			continue
		}
		res := s.enforcer.Enforce(ctx, sub, access.TriggerSweeper)
		if !res.HasAccess {
			denied++
		}
	}

	if denied > 0 {
		log.Info().
			Int("expired_trials", len(trials)).
			Int("lapsed_cancellations", len(lapsed)).
			Int("denied", denied).
			Msg("Subscription sweep completed")
	}
	return denied, nil
}
