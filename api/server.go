/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. httpMetrics: Prometheus request counters/latency

ROUTE GROUPS:
  /api/groups/*   Groups, membership, period creation/listing
  /api/periods/*  Period lifecycle, ledger writes, settlement reads
  /metrics        Prometheus scrape endpoint
  /health         Liveness probe

CALLER IDENTITY:
  The X-User-ID header identifies the caller; handlers resolve it
  against the membership table for role checks. Authentication itself
  sits in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))
	r.Use(httpMetrics)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Group routes
		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Get("/{id}", h.GetGroup)
			r.Delete("/{id}", h.DeleteGroup)
			r.Post("/{id}/join", h.JoinGroup)
			r.Get("/{id}/members", h.ListMembers)
			r.Put("/{id}/members/{user}", h.UpdateMember)

			r.Post("/{id}/periods", h.CreatePeriod)
			r.Get("/{id}/periods", h.ListPeriods)
			r.Get("/{id}/periods/current", h.CurrentPeriod)
		})

		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/{id}", h.GetPeriod)

			// Lifecycle (privileged)
			r.Post("/{id}/lock", h.LockPeriod)
			r.Post("/{id}/unlock", h.UnlockPeriod)
			r.Post("/{id}/end", h.EndPeriod)
			r.Post("/{id}/archive", h.ArchivePeriod)
			r.Post("/{id}/restart", h.RestartPeriod)

			// Ledger writes
			r.Post("/{id}/meals", h.AddMeal)
			r.Post("/{id}/guest-meals", h.AddGuestMeal)
			r.Post("/{id}/expenses", h.AddExpense)
			r.Post("/{id}/transactions", h.CreateTransaction)
			r.Post("/{id}/payments", h.RecordPayment)

			// Derived reads (cached)
			r.Get("/{id}/rate", h.GetRate)
			r.Get("/{id}/settlement", h.GetSettlement)
			r.Get("/{id}/balance/{user}", h.GetBalance)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Get("/{id}/transactions/{user}/history", h.GetHistory)
			r.Get("/{id}/payments", h.ListPayments)
		})

		// Transaction reversal
		r.Post("/transactions/{id}/reverse", h.ReverseTransaction)

		// Demo scenarios (development/demo environments)
		r.Get("/scenarios", h.ListScenarios)
		r.Post("/scenarios/load", h.LoadScenario)
	})

	// Observability
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
