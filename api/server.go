/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/assets/*          Registration, lookups, per-asset workflows
  /api/deployments/*     Deployment approval queue and steps
  /api/transfers/*       Transfer approval queue and steps
  /api/maintenance/*     Maintenance completion
  /api/depreciation/*    Due list and batch runs
  /api/eligible/*        Transfer / disposal candidate lists
  /api/events, /ws       Audit cursor and live push
  /api/employees, /api/business-units
  /api/scenarios/*       Demo data loaders
  /healthz, /metrics

SECURITY NOTE:
  No authentication middleware. The actor is whatever X-Actor-ID says;
  deploy behind a gateway that sets it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. hub may be
// nil, in which case the websocket route is not mounted.
func NewRouter(h *Handler, hub *Hub, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", h.ListAssets)
			r.Post("/", h.RegisterAsset)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAsset)
				r.Get("/history", h.GetHistory)
				r.Get("/depreciation", h.GetDepreciation)
				r.Post("/status", h.ChangeStatus)
				r.Post("/dispose", h.Dispose)
				r.Post("/usage", h.RecordUsage)
				r.Post("/deployments", h.RequestDeployment)
				r.Post("/transfers", h.RequestTransfer)
				r.Post("/maintenance", h.StartMaintenance)
			})
		})

		r.Route("/deployments", func(r chi.Router) {
			r.Get("/pending", h.ListPendingDeployments)
			r.Post("/{id}/approve", h.ApproveDeployment)
			r.Post("/{id}/reject", h.RejectDeployment)
			r.Post("/{id}/cancel", h.CancelDeployment)
			r.Post("/{id}/return", h.ReturnDeployment)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Get("/pending", h.ListPendingTransfers)
			r.Post("/{id}/approve", h.ApproveTransfer)
			r.Post("/{id}/reject", h.RejectTransfer)
			r.Post("/{id}/cancel", h.CancelTransfer)
			r.Post("/{id}/ship", h.ShipTransfer)
			r.Post("/{id}/receive", h.ReceiveTransfer)
		})

		r.Post("/maintenance/{id}/complete", h.CompleteMaintenance)

		r.Route("/depreciation", func(r chi.Router) {
			r.Get("/due", h.ListDue)
			r.Post("/run", h.RunDepreciation)
			r.Get("/runs/last", h.LastRun)
		})

		r.Get("/eligible/transfer", h.EligibleForTransfer)
		r.Get("/eligible/disposal", h.EligibleForDisposal)

		r.Get("/events", h.ListEvents)
		if hub != nil {
			r.Get("/events/ws", hub.ServeWS)
		}

		r.Get("/employees", h.ListEmployees)
		r.Post("/employees", h.SaveEmployee)
		r.Get("/business-units", h.ListBusinessUnits)
		r.Post("/business-units", h.SaveBusinessUnit)

		r.Get("/scenarios", h.ListScenarios)
		r.Post("/scenarios/load", h.LoadScenario)
	})

	return r
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and, when the store supports it, database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Service.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
