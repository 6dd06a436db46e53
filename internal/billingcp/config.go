package billingcp

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	billingstripe "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/stripe"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the billing control plane.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	StripeAPIKey        string
	StripeWebhookSecret string
	JWTSecret           string // HS256 secret shared with the identity provider
	DatabaseURL         string // PostgreSQL DSN; SQLite under DataDir when empty
	SeatPriceCents      int64
	PriceTablePath      string // YAML price-id to tier table (optional)
	RejectStaleEvents   bool
	TrialSweepInterval  time.Duration
	PublicMetrics       bool
	LogLevel            string
	LogFormat           string
}

// ControlPlaneDir returns the directory for the SQLite database.
func (c *Config) ControlPlaneDir() string {
	return filepath.Join(c.DataDir, "billing")
}

// LoadConfig loads configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate billing config: %w", err)
	}
	return cfg, nil
}

// LoadLocalConfig loads configuration for offline operator commands, which
// touch only the registry and therefore need no Stripe or admin secrets.
func LoadLocalConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateLocal(); err != nil {
		return nil, fmt.Errorf("validate billing config: %w", err)
	}
	return cfg, nil
}

func loadConfig() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("BILLING_PORT", 8080)
	if err != nil {
		return nil, err
	}
	seatPrice, err := envOrDefaultInt64("BILLING_SEAT_PRICE_CENTS", billing.DefaultSeatPriceCents)
	if err != nil {
		return nil, err
	}
	rejectStale, err := envOrDefaultBool("BILLING_REJECT_STALE_EVENTS", false)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("BILLING_PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envOrDefaultDuration("BILLING_TRIAL_SWEEP_INTERVAL", billingstripe.DefaultSweepInterval)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("BILLING_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("BILLING_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("BILLING_ADMIN_KEY")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		JWTSecret:           strings.TrimSpace(os.Getenv("BILLING_JWT_SECRET")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("BILLING_DATABASE_URL")),
		SeatPriceCents:      seatPrice,
		PriceTablePath:      strings.TrimSpace(os.Getenv("BILLING_PRICE_TABLE")),
		RejectStaleEvents:   rejectStale,
		TrialSweepInterval:  sweepInterval,
		PublicMetrics:       publicMetrics,
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("LOG_FORMAT", "auto"),
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "BILLING_ADMIN_KEY")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return c.validateLocal()
}

func (c *Config) validateLocal() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("BILLING_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.SeatPriceCents <= 0 {
		return fmt.Errorf("BILLING_SEAT_PRICE_CENTS must be greater than 0, got %d", c.SeatPriceCents)
	}
	if c.TrialSweepInterval < time.Minute {
		return fmt.Errorf("BILLING_TRIAL_SWEEP_INTERVAL must be at least 1m, got %s", c.TrialSweepInterval)
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("BILLING_JWT_SECRET must be at least 32 characters")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultInt64(key string, fallback int64) (int64, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a duration like 30m or 1h: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
