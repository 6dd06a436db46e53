package billingcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/rs/zerolog/log"
)

// Run starts the billing control plane HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := logging.InitFromConfig(ctx, logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "billing-cp",
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	log.Info().Str("version", version).Msg("Starting billing control plane")

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	services, err := NewServices(cfg, store, nil, nil)
	if err != nil {
		return err
	}

	handler := NewHandler(&Deps{
		Config:   cfg,
		Services: services,
		Version:  version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go services.Sweeper.Run(ctx)
	go runPlanMetrics(ctx, store)
	go func() {
		if err := services.Catalog.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("Price table watcher stopped")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Billing control plane listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Billing control plane stopped")
	return nil
}
