/*
server.go - router construction

PURPOSE:
  Builds the chi router with the standard middleware stack and mounts
  every ledger route under /api.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires all routes onto a chi mux.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/", h.ListUsers)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Get("/wallet", h.GetWallet)
				r.Get("/transactions", h.GetUserTransactions)
				r.Post("/transactions", h.MakeTransfer)
				r.Post("/add_balance", h.AddBalance)
				r.Post("/clear_dues", h.ClearDues)
				r.Post("/clear_dues/{payee}", h.ClearDuesPayee)
				r.Get("/pending_dues", h.PendingDues)
				r.Get("/pending_dues_owed", h.PendingDuesOwed)
				r.Get("/notifications", h.GetNotifications)
				r.Post("/issues", h.RaiseIssue)
			})
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
		})

		r.Post("/notifications/{id}/read", h.MarkNotificationRead)
		r.Post("/issues/{id}/resolve", h.ResolveIssue)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
