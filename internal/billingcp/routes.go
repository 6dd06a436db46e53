package billingcp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/api"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config   *Config
	Services *Services
	Version  string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	svc := deps.Services

	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}
	// Without a JWT secret, callers are trusted operators holding the admin
	// key who name the acting user in X-User-ID.
	callerAuth := func(next http.Handler) http.Handler {
		if deps.Config.JWTSecret == "" {
			return adminAuth(CallerFromHeader(next))
		}
		return RequireCaller([]byte(deps.Config.JWTSecret), next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", api.HandleHealthz)
	mux.HandleFunc("/readyz", api.HandleReadyz(svc.Store))

	mux.Handle("/status", adminAuth(handleStatus(svc.Store, deps.Version)))

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated)
	webhookHandler := svc.WebhookHandler(deps.Config.StripeWebhookSecret)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(webhookHandler))

	apiLimiter := NewRateLimiter(300, time.Minute)
	authed := func(h http.Handler) http.Handler {
		return apiLimiter.Middleware(callerAuth(h))
	}

	mux.Handle("/api/subscription/status", authed(api.HandleSubscriptionStatus(svc.Evaluator)))
	mux.Handle("/api/subscription/check-access", authed(api.HandleCheckAccess(svc.Evaluator)))
	mux.Handle("/api/subscription/quantity", authed(api.HandleUpdateQuantity(svc.Quantity)))

	mux.Handle("/api/organizations/{organization_id}/user-count", authed(api.HandleUserCount(svc.Store, svc.Counter)))
	mux.Handle("/api/organizations/{organization_id}/seats", authed(api.HandleSeatSummary(svc.Seats)))
	mux.Handle("/api/organizations/{organization_id}/seats/preview", authed(api.HandleSeatPreview(svc.Seats)))
	mux.Handle("/api/organizations/{organization_id}/users", authed(api.HandleAddUser(svc.Seats)))
}

// NewHandler returns the request-logged root handler.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return logging.Middleware(mux)
}

func handleStatus(store PlanCounter, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		counts, err := store.CountByPlan(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Status: count subscriptions by plan")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		byPlan := make(map[string]int, len(counts))
		total := 0
		for plan, n := range counts {
			byPlan[string(plan)] = n
			total += n
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":       version,
			"subscriptions": total,
			"by_plan":       byPlan,
		})
	}
}
