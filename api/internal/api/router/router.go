// api/internal/api/router/router.go
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apihandlers "kari/api/internal/api/handlers"
	auth_middleware "kari/api/internal/api/middleware"
	"kari/api/internal/cluster/master"
	deliveryhttp "kari/api/internal/delivery/http"
	authhandlers "kari/api/internal/handlers"
)

// RouterConfig defines the strict dependencies required to build the API routing tree.
type RouterConfig struct {
	AllowedOrigins []string

	AuthHandler    *authhandlers.AuthHandler
	ProfileHandler *authhandlers.ProfileHandler

	AppHandler    *apihandlers.AppHandler
	DomainHandler *apihandlers.DomainHandler
	AuditHandler  *apihandlers.AuditHandler
	WSHandler     *apihandlers.WebSocketHandler
	HealthHandler *deliveryhttp.HealthHandler

	RealtimeHandler      *apihandlers.RealtimeHandler
	ClusterStatusHandler *apihandlers.ClusterStatusHandler

	// ClusterManager is non-nil only in master mode. It is consulted by
	// ClusterRouting (C7) and mounted directly at /cluster/tunnel for
	// slave control connections.
	ClusterManager *master.Manager

	AuthMiddleware *auth_middleware.AuthMiddleware
	Logger         *slog.Logger
}

// NewRouter constructs the Chi multiplexer, attaches global middleware, and wires all endpoints.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// =========================================================================
	// 1. Global Gateway Middleware Pipeline
	// =========================================================================

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(auth_middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(auth_middleware.MaxBytes(1_048_576))
	r.Use(auth_middleware.RateLimitMiddleware)
	r.Use(auth_middleware.EnforceTLS)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Hub-Signature-256", "X-GitHub-Event", "X-Target-Slave"},
		ExposedHeaders:   []string{"Link", "Set-Cookie"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// C7: decide per-request whether to serve locally or forward to a
	// slave over the tunnel fabric. A no-op outside master mode.
	r.Use(auth_middleware.ClusterRouting(cfg.ClusterManager, cfg.Logger))

	// =========================================================================
	// 2. API v1 Routing Tree (the panel's own control-plane API; always local)
	// =========================================================================

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/refresh", cfg.AuthHandler.Refresh)
			r.Post("/webhooks/github/{id}", cfg.AppHandler.HandleGitHubWebhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthMiddleware.RequireAuthentication())

			// Zero-Trust: even if a route forgets a RequirePermission check,
			// this guard ensures view-only operators can never mutate state.
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					if req.Method == http.MethodPost || req.Method == http.MethodPut ||
						req.Method == http.MethodDelete || req.Method == http.MethodPatch {
						guard := cfg.AuthMiddleware.RequireScope(
							"domains:write", "domains:delete",
							"applications:write", "applications:deploy", "applications:delete",
							"server:manage",
						)
						guard(next).ServeHTTP(w, req)
						return
					}
					next.ServeHTTP(w, req)
				})
			})

			r.Route("/domains", func(r chi.Router) {
				r.With(cfg.AuthMiddleware.RequirePermission("domains", "read")).
					Get("/", cfg.DomainHandler.List)
				r.With(cfg.AuthMiddleware.RequirePermission("domains", "write")).
					Post("/", cfg.DomainHandler.Create)
				r.With(cfg.AuthMiddleware.RequirePermission("domains", "delete")).
					Delete("/{id}", cfg.DomainHandler.Delete)
				r.With(cfg.AuthMiddleware.RequirePermission("domains", "write")).
					Post("/{id}/ssl", cfg.DomainHandler.ProvisionSSL)
			})

			r.Route("/applications", func(r chi.Router) {
				r.With(cfg.AuthMiddleware.RequirePermission("applications", "read")).
					Get("/", cfg.AppHandler.List)
				r.With(cfg.AuthMiddleware.RequirePermission("applications", "write")).
					Post("/", cfg.AppHandler.Create)
				r.With(cfg.AuthMiddleware.RequirePermission("applications", "read")).
					Get("/{id}", cfg.AppHandler.GetByID)
				r.With(cfg.AuthMiddleware.RequirePermission("applications", "write")).
					With(auth_middleware.ValidateEnvVars).
					Put("/{id}/env", cfg.AppHandler.UpdateEnv)
				r.With(cfg.AuthMiddleware.RequirePermission("applications", "deploy")).
					Post("/{id}/deploy", cfg.AppHandler.TriggerDeploy)
			})

			r.With(cfg.AuthMiddleware.RequirePermission("audit_logs", "read")).
				Get("/audit", cfg.AuditHandler.HandleGetTenantLogs)

			r.With(cfg.AuthMiddleware.RequirePermission("server", "manage")).
				Get("/admin/alerts", cfg.AuditHandler.HandleGetAdminAlerts)

			r.Route("/system/profile", func(r chi.Router) {
				r.With(cfg.AuthMiddleware.RequirePermission("server", "manage")).
					Get("/", cfg.ProfileHandler.GetProfile)
				r.With(cfg.AuthMiddleware.RequirePermission("server", "manage")).
					Put("/", cfg.ProfileHandler.UpdateProfile)
			})

			r.With(cfg.AuthMiddleware.RequirePermission("applications", "read")).
				With(auth_middleware.ValidateTraceID("trace_id")).
				Get("/ws/deployments/{trace_id}", cfg.WSHandler.StreamDeploymentLogs)
		})
	})

	// =========================================================================
	// 3. Cluster Tunnel Fabric (C5-C8)
	// =========================================================================

	// Control-plane: slave control connections land here in master mode
	// only; in standalone/slave mode ClusterManager is nil and this route
	// is never mounted.
	if cfg.ClusterManager != nil {
		r.Get("/cluster/tunnel", cfg.ClusterManager.HandleControlConnection)
	}

	r.Route("/api/cluster", func(r chi.Router) {
		r.Get("/status", cfg.ClusterStatusHandler.HandleStatus)

		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthMiddleware.RequireAuthentication())
			r.Get("/slaves", cfg.ClusterStatusHandler.HandleListSlaves)
			r.Get("/slaves/{id}", cfg.ClusterStatusHandler.HandleGetSlave)
			r.Get("/slaves/{id}/health", cfg.ClusterStatusHandler.HandleSlaveHealth)
		})
	})

	// Symmetric realtime upgrade endpoints: local by default, forwarded
	// to a slave's local service when ?_slave=<id> is present (C6/C7).
	r.Get("/ws", cfg.RealtimeHandler.ServeWS)
	r.Get("/shell", cfg.RealtimeHandler.ServeShell)

	r.Get("/healthz", cfg.HealthHandler.Check)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	return r
}
