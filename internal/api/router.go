package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/bootstrap"
)

type RouterConfig struct {
	App     *bootstrap.App
	Log     *zap.Logger
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{app: cfg.App, log: cfg.Log}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(IdentityMiddleware)

	health := NewHealthHandler(cfg.App.Checks, cfg.App.Config.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", h.listProviders)
		r.Get("/{id}", h.getProvider)
		r.Put("/{id}", h.upsertProvider)
		r.Get("/{id}/availability", h.availability)
		r.Post("/{id}/slots/generate", h.generateSlots)
	})

	r.Post("/reservations", h.reserve)
	r.Get("/appointments/{id}", h.getAppointment)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.startBooking)
		r.Get("/{id}", h.getBooking)
		r.Delete("/{id}", h.deleteBooking)
		r.Post("/{id}/provider", h.step(chooseProvider))
		r.Post("/{id}/date", h.step(chooseDate))
		r.Post("/{id}/slot", h.step(chooseSlot))
		r.Post("/{id}/details", h.step(updateDetails))
		r.Post("/{id}/submit", h.step(submit))
		r.Post("/{id}/resume", h.step(resume))
		r.Post("/{id}/reset", h.step(reset))
	})

	return r
}
