package billingcp

import (
	"context"
	"fmt"
	"os"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/access"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/plancatalog"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/registry"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/seats"
	billingstripe "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/stripe"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/usercount"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Services bundles the wired control plane components. Each server builds
// its own set; nothing is shared through package state.
type Services struct {
	Store        registry.Store
	Catalog      *plancatalog.Catalog
	Evaluator    *access.Evaluator
	Counter      *usercount.Counter
	Quantity     *seats.QuantityService
	Orchestrator *seats.Orchestrator
	Seats        *seats.Service
	Synchronizer *billingstripe.Synchronizer
	Sweeper      *billingstripe.Sweeper
}

// OpenStore opens PostgreSQL when a database URL is configured and the
// SQLite registry under the data directory otherwise.
func OpenStore(ctx context.Context, cfg *Config) (registry.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := registry.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres registry: %w", err)
		}
		log.Info().Msg("Billing registry: PostgreSQL")
		return store, nil
	}

	if err := os.MkdirAll(cfg.ControlPlaneDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create billing data dir: %w", err)
	}
	store, err := registry.NewSQLiteStore(cfg.ControlPlaneDir())
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry: %w", err)
	}
	log.Info().Str("dir", cfg.ControlPlaneDir()).Msg("Billing registry: SQLite")
	return store, nil
}

// NewServices wires every component on top of store. gateway may be nil, in
// which case the Stripe client is built from the configured API key.
func NewServices(cfg *Config, store registry.Store, gateway seats.Gateway, clock clockwork.Clock) (*Services, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	catalog, err := plancatalog.New(cfg.PriceTablePath, cfg.SeatPriceCents)
	if err != nil {
		return nil, fmt.Errorf("load price table: %w", err)
	}
	if gateway == nil {
		gateway = billingstripe.NewClient(cfg.StripeAPIKey)
	}

	evaluator := access.NewEvaluator(store, clock)
	counter := usercount.New(store, catalog)
	quantity := seats.NewQuantityService(store, gateway, catalog, clock)
	orchestrator := seats.NewOrchestrator(quantity, catalog)

	return &Services{
		Store:        store,
		Catalog:      catalog,
		Evaluator:    evaluator,
		Counter:      counter,
		Quantity:     quantity,
		Orchestrator: orchestrator,
		Seats:        seats.NewService(store, counter, orchestrator),
		Synchronizer: billingstripe.NewSynchronizer(store, catalog, billingstripe.SynchronizerOptions{
			RejectStaleEvents: cfg.RejectStaleEvents,
			Clock:             clock,
		}),
		Sweeper: billingstripe.NewSweeper(store, evaluator, clock, cfg.TrialSweepInterval),
	}, nil
}

// WebhookHandler returns the Stripe webhook endpoint bound to the synchronizer.
func (s *Services) WebhookHandler(secret string) *billingstripe.WebhookHandler {
	return billingstripe.NewWebhookHandler(secret, s.Synchronizer)
}
