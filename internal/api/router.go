package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/errhub/internal/api/middleware"
	"github.com/kiranshivaraju/errhub/internal/api/response"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	IngestHandler  http.HandlerFunc
	ListRecords    http.HandlerFunc
	GetRecord      http.HandlerFunc
	RecordHistory  http.HandlerFunc
	SummaryHandler http.HandlerFunc

	AssignHandler  http.HandlerFunc
	StartHandler   http.HandlerFunc
	ResolveHandler http.HandlerFunc
	IgnoreHandler  http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.With(deps.Auth.RequireScope(models.ScopeIngest)).
			Post("/api/v1/errors", orNotImplemented(deps.IngestHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/errors", orNotImplemented(deps.ListRecords))
			r.Get("/api/v1/errors/summary", orNotImplemented(deps.SummaryHandler))
			r.Get("/api/v1/errors/{recordID}", orNotImplemented(deps.GetRecord))
			r.Get("/api/v1/errors/{recordID}/history", orNotImplemented(deps.RecordHistory))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeOperate))

			r.Post("/api/v1/errors/{recordID}/assign", orNotImplemented(deps.AssignHandler))
			r.Post("/api/v1/errors/{recordID}/start", orNotImplemented(deps.StartHandler))
			r.Post("/api/v1/errors/{recordID}/resolve", orNotImplemented(deps.ResolveHandler))
			r.Post("/api/v1/errors/{recordID}/ignore", orNotImplemented(deps.IgnoreHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
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
