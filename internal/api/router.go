package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/rehabtrack/internal/api/middleware"
	"github.com/kiranshivaraju/rehabtrack/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	SubmitVideoHandler http.HandlerFunc
	ListJobsHandler    http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	WatchJobHandler    http.HandlerFunc
	UnwatchJobHandler  http.HandlerFunc
	LogPainHandler     http.HandlerFunc
	ListSamplesHandler http.HandlerFunc
	AnalyticsHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Owner-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Owner)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/videos", orNotImplemented(deps.SubmitVideoHandler))

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/jobs/{jobID}/watch", orNotImplemented(deps.WatchJobHandler))
		r.Delete("/api/v1/jobs/{jobID}/watch", orNotImplemented(deps.UnwatchJobHandler))

		r.Post("/api/v1/samples", orNotImplemented(deps.LogPainHandler))
		r.Get("/api/v1/samples", orNotImplemented(deps.ListSamplesHandler))
		r.Get("/api/v1/analytics", orNotImplemented(deps.AnalyticsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
