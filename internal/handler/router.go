package handler

import (
	"net/http"

	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/observability"
	"github.com/boddenberg/property-dashboard-sync-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// RouterConfig carries the view-layer knobs the router needs.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(coord *service.Coordinator, guard *service.SessionGuard, notices *service.NoticeQueue, metrics *observability.Metrics, logger *zap.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(guard))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(cfg.JWTSecret, logger))

			// =============================================
			// Session & sync state
			// =============================================
			r.Get("/session", getSessionHandler(coord, guard, logger))
			r.Get("/session/banner", getBannerHandler(coord))
			r.Get("/session/permissions", getPermissionsHandler(coord, logger))
			r.Get("/session/notices", getNoticesHandler(notices))

			// =============================================
			// Trigger endpoints
			// =============================================
			r.Post("/session/refresh", refreshHandler(coord, logger))
			r.Post("/session/focus", focusHandler(coord))
			r.Post("/session/logout", logoutHandler(guard, logger))
		})
	})

	return r
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler gates readiness on the session boundary resolution:
// traffic is admitted only once the guard has left the loading state.
func readyzHandler(guard *service.SessionGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if guard.State() == service.SessionLoading {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "loading",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ready",
			"session": string(guard.State()),
		})
	}
}
