package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pkazmin/auth-rbac-service/internal/health"
	"github.com/pkazmin/auth-rbac-service/internal/http/handler"
	"github.com/pkazmin/auth-rbac-service/internal/http/middleware"
	"github.com/pkazmin/auth-rbac-service/internal/http/response"
	"github.com/pkazmin/auth-rbac-service/internal/security"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	GroupHandler      *handler.GroupHandler
	PermissionHandler *handler.PermissionHandler
	UserAdminHandler  *handler.UserAdminHandler
	JWTManager        *security.JWTManager
	Denylist          service.DenylistCache
	Authorizer        service.Authorizer
	Resolver          service.PermissionResolver
	CORSOrigins       []string
	AuthRateLimitRPM  int
	APIRateLimitRPM   int
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	authn := middleware.AuthMiddleware(dep.JWTManager, dep.Denylist)
	requires := func(permissions ...string) func(http.Handler) http.Handler {
		return middleware.RequirePermissions(dep.Authorizer, dep.Resolver, permissions...)
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/signup", dep.AuthHandler.SignUp)
			r.With(authLimiter).Post("/signin", dep.AuthHandler.SignIn)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.With(authLimiter).Post("/change-password", dep.AuthHandler.ChangePassword)
				r.Get("/history", dep.AuthHandler.LoginHistory)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/me", dep.AuthHandler.Me)
			r.Get("/me/sessions", dep.AuthHandler.ActiveSessions)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Use(authn)
			r.With(requires("groups.read")).Get("/", dep.GroupHandler.List)
			r.With(requires("groups.write")).Post("/", dep.GroupHandler.Create)
			r.With(requires("groups.write")).Put("/{groupID}", dep.GroupHandler.Update)
			r.With(requires("groups.write")).Delete("/{groupID}", dep.GroupHandler.Delete)
		})

		r.Route("/permissions", func(r chi.Router) {
			r.Use(authn)
			r.With(requires("permissions.read")).Get("/", dep.PermissionHandler.List)
			r.With(requires("permissions.write")).Post("/", dep.PermissionHandler.Create)
			r.With(requires("permissions.write")).Put("/{permissionID}", dep.PermissionHandler.Update)
			r.With(requires("permissions.write")).Delete("/{permissionID}", dep.PermissionHandler.Delete)
		})

		r.With(authn, requires("users.write")).
			Put("/users/{userID}/groups", dep.UserAdminHandler.SetGroups)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
