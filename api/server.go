/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Recoverer:   Panic recovery (500 instead of crash)
  2. RequestID:   Unique ID per request for tracing
  3. Instrument:  Prometheus request metrics + structured access log
  4. RateLimit:   Token bucket per client IP
  5. CORS:        Cross-origin requests for frontend

ROUTE GROUPS:
  /api/brokers/*   Ledger operations and queries
  /api/scenarios/* Demo scenarios
  /healthz         Liveness
  /metrics         Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/dealer-ledger/obs"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(obs.Instrument)
	r.Use(RateLimit(100, 50))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/brokers/{brokerID}", func(r chi.Router) {
			r.Get("/statement", h.GetStatement)

			r.Route("/branches/{branchID}", func(r chi.Router) {
				r.Post("/transactions", h.CreateTransaction)
				r.Post("/on-account", h.DepositOnAccount)
				r.Post("/allocate", h.Allocate)
				r.Post("/auto-allocate", h.AutoAllocate)

				r.Patch("/transactions/{txID}/approve", h.Approve)
				r.Patch("/transactions/{txID}/approve-on-account", h.ApproveOnAccount)
				r.Patch("/transactions/{txID}/reject", h.Reject)

				r.Get("/ledger", h.GetLedger)
				r.Get("/pending", h.ListPending)
				r.Get("/pending-debits", h.ListPendingDebits)
				r.Get("/on-account-summary", h.OnAccountSummary)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", obs.Handler())

	return r
}
