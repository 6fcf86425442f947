package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/bizledger-backend/api/controllers"
	"github.com/angelmondragon/bizledger-backend/api/middleware"
	"github.com/angelmondragon/bizledger-backend/internal/auth"
	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
)

// Dependencies bundles everything the HTTP surface needs. RateLimitStore may
// be nil, in which case login is not throttled.
type Dependencies struct {
	Config         *config.Config
	Logger         *logger.Logger
	AuthService    auth.Service
	Authenticator  middleware.Authenticator
	Resolver       *permissions.Resolver
	RateLimitStore middleware.RateLimiterStore
	Readiness      []controllers.ReadinessCheck
	Metrics        http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	loginLimits := middleware.LoginLimitsFromConfig(cfg.AuthRateLimit)
	cookie := controllers.SessionCookie{Name: cfg.JWT.CookieName, Secure: cfg.App.IsProd()}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness...))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.LoginRateLimit(loginLimits, deps.RateLimitStore, logg)).
			Post("/login", controllers.AuthLogin(deps.AuthService, cookie, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Authenticator, cfg.JWT.CookieName, logg))
			r.Post("/logout", controllers.AuthLogout(deps.AuthService, cookie, logg))
			r.Get("/me", controllers.AuthMe(deps.AuthService, logg))
			r.Post("/refresh", controllers.AuthRefresh(deps.AuthService, logg))
			r.With(middleware.StoreContext(logg)).
				Get("/permissions", controllers.AuthPermissions(deps.Resolver, logg))
		})
	})

	return r
}
