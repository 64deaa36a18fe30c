package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/stellarion/api/app"
	"github.com/stellarion/api/handlers"
	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/middleware"
	"github.com/stellarion/api/services"
	"github.com/stellarion/api/utils"
	"github.com/unrolled/secure"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// Security headers
	r.Use(secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           deps.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !deps.Config.IsProduction(),
	}).Handler)

	// CORS middleware; credentials are required for the session cookie
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps.Config.Server.FrontEndURL),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// Everything below runs inside a browser context
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware.Attach)

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				if limit := deps.Config.Server.AuthRateLimit; limit > 0 {
					r.Use(httprate.Limit(limit, time.Minute,
						httprate.WithKeyFuncs(httprate.KeyByIP),
						httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
							handlers.HandleServiceError(w, services.ErrRateLimitExceeded, deps.Logger)
						})))
				}
				r.Post("/signup", deps.AuthHandler.HandleSignUp)
				r.Post("/signin", deps.AuthHandler.HandleSignIn)
				r.Post("/signout", deps.AuthHandler.HandleSignOut)
			})

			r.Get("/session", deps.SessionHandler.HandleGetSession)
			r.Delete("/session", func(w http.ResponseWriter, r *http.Request) {
				deps.SessionMiddleware.Forget(w, r)
				utils.WriteNoContent(w)
			})
			r.Patch("/profile", deps.SessionHandler.HandleUpdateProfile)

			r.Get("/roles", deps.AccessHandler.HandleRoles)
			r.Get("/menu", deps.AccessHandler.HandleMenu)
			r.Get("/access", deps.AccessHandler.HandleAccess)

			r.Route("/admin", func(r chi.Router) {
				r.Use(deps.AccessMiddleware.RequireMinimumRole(rbac.RoleAdmin))
				r.Get("/contexts", deps.AccessHandler.HandleContexts)
				r.Get("/profiles", deps.ProfileAdmin.HandleListByRole)
				r.Get("/profiles/counts", deps.ProfileAdmin.HandleCountByRole)
			})
		})

		// Dashboard pages are gated by the route table
		r.Route("/dashboard", func(r chi.Router) {
			r.Use(deps.AccessMiddleware.Protect)
			r.Get("/", deps.AccessHandler.HandleDashboard)
			r.Get("/*", deps.AccessHandler.HandleDashboard)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func allowedOrigins(frontEndURL string) []string {
	if frontEndURL == "" {
		return []string{"http://localhost:*"}
	}
	return []string{frontEndURL}
}
