// Package httpserver exposes the caregate REST API under /v1.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/and161185/caregate/internal/metrics"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/service"
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (model.Principal, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the router's collaborators. Pinger, Gatherer, AuthLimiter,
// Recorder and Log are optional.
type Deps struct {
	Auth         service.AuthService
	Applications service.ApplicationService
	Gate         Authenticator
	Pinger       Pinger
	Gatherer     prometheus.Gatherer
	AuthLimiter  *IPRateLimiter
	Recorder     metrics.Recorder
	Log          *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Recorder == nil {
		d.Recorder = metrics.Nop{}
	}
	h := &handler{auth: d.Auth, apps: d.Applications, pinger: d.Pinger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(recoverer(d.Log))
	r.Use(instrument(d.Recorder))

	r.Get("/healthz", h.health)
	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if d.AuthLimiter != nil {
				r.Use(d.AuthLimiter.Middleware)
			}
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/google", h.loginGoogle)
			r.With(authenticate(d.Gate)).Post("/password", h.changePassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate(d.Gate))

			r.Get("/me", h.me)

			r.Route("/applications", func(r chi.Router) {
				r.Post("/stages", h.submitStage)
				r.Get("/me", h.myApplication)
				r.Get("/{id}", h.getApplication)
				r.Get("/{id}/events", h.applicationEvents)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Get("/applications", h.listApplications)
				r.Post("/applications/{id}/review", h.reviewApplication)
				r.Post("/identities/{id}/status", h.setIdentityStatus)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}
