package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/appointment-intent-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/appointment-intent-engine/internal/http/middleware"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Intents        *handlers.IntentHandler
	TenantSettings *handlers.TenantSettingsHandler
	RateLimiter    *httpmiddleware.TenantRateLimiter
	MetricsHandler http.Handler

	TenantJWTSecret    string
	AdminToken         string
	CORSAllowedOrigins []string

	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		public.Get("/ready", ready(cfg.Ready))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Operator routes
	if cfg.TenantSettings != nil && cfg.AdminToken != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(requireAdminToken(cfg.AdminToken))
			admin.Get("/tenants/{tenantID}/settings", cfg.TenantSettings.Get)
			admin.Put("/tenants/{tenantID}/settings", cfg.TenantSettings.Put)
		})
	}

	// Tenant-scoped API routes
	if cfg.Intents != nil {
		r.Route("/v1", func(v1 chi.Router) {
			v1.Use(httpmiddleware.TenantJWT(cfg.TenantJWTSecret))
			if cfg.RateLimiter != nil {
				v1.Use(cfg.RateLimiter.Middleware)
			}
			v1.Use(middleware.AllowContentType("application/json"))

			v1.Post("/intents", cfg.Intents.ProcessIntent)
			v1.Post("/intents/validate", cfg.Intents.ValidateIntent)
			v1.Post("/slots/suggest", cfg.Intents.SuggestSlots)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func ready(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ready"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
