package router

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/homecare-visits/internal/assignment"
	"github.com/wolfman30/homecare-visits/internal/audit"
	"github.com/wolfman30/homecare-visits/internal/doctors"
	httpmiddleware "github.com/wolfman30/homecare-visits/internal/http/middleware"
	"github.com/wolfman30/homecare-visits/internal/http/respond"
	"github.com/wolfman30/homecare-visits/internal/notifications"
	"github.com/wolfman30/homecare-visits/internal/visits"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// HealthCheck probes one dependency. A non-nil error marks the service degraded.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger               *logging.Logger
	VisitsHandler        *visits.Handler
	AssignmentHandler    *assignment.Handler
	DoctorsHandler       *doctors.Handler
	NotificationsHandler *notifications.Handler
	AuditHandler         *audit.Handler
	MetricsHandler       http.Handler
	CORSAllowedOrigins   []string
	JWTSecret            string
	RateLimiter          *httpmiddleware.RateLimiter

	// Dependency probes reported by /health, keyed by name (database, redis).
	HealthChecks map[string]HealthCheck
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

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.ActorJWT(cfg.JWTSecret))
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.VisitsHandler != nil {
			cfg.VisitsHandler.RegisterRoutes(api)
		}
		if cfg.AssignmentHandler != nil {
			cfg.AssignmentHandler.RegisterRoutes(api)
		}
		if cfg.AuditHandler != nil {
			cfg.AuditHandler.RegisterRoutes(api)
		}
		if cfg.DoctorsHandler != nil {
			cfg.DoctorsHandler.RegisterRoutes(api)
		}
		if cfg.NotificationsHandler != nil {
			cfg.NotificationsHandler.RegisterRoutes(api)
		}
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		if len(names) == 0 {
			respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		respond.JSON(w, status, body)
	}
}
