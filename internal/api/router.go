package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/starford/othala/internal/oracle"
)

// NewRouter creates a chi router with all API routes mounted.
// ratePerMinute <= 0 disables rate limiting (useful in tests).
func NewRouter(svc *oracle.Service, ratePerMinute int) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	if ratePerMinute > 0 {
		r.Use(httprate.LimitByIP(ratePerMinute, time.Minute))
	}

	r.Get("/distance", h.Distance)
	r.Post("/distance/batch", h.BatchDistance)
	r.Get("/follows", h.Follows)
	r.Get("/common", h.CommonFollows)
	r.Get("/path", h.ShortestPath)
	r.Get("/stats", h.Stats)

	return r
}
