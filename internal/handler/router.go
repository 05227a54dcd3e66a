package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/mealsub-system/internal/metrics"
	custommiddleware "github.com/mmeshcher/mealsub-system/internal/middleware"
	"github.com/mmeshcher/mealsub-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса подписок.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.With(custommiddleware.RequireRole(model.RoleAdmin)).Post("/api/admin/users", h.CreateUser)

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", h.GetBalance)
			r.Post("/recharge", h.Recharge)
			r.Get("/payments", h.GetPayments)
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(custommiddleware.RequireRole(model.RoleCustomer)).Post("/", h.CreateOrder)
			r.Get("/", h.GetOrders)
			r.Patch("/{id}/status", h.UpdateOrderStatus)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.With(custommiddleware.RequireRole(model.RoleAdmin)).Post("/process-daily", h.ProcessDaily)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleCustomer))

				r.Get("/", h.GetSubscriptions)
				r.Post("/", h.CreateSubscription)
				r.Post("/trigger-payment", h.TriggerPayment)
				r.Patch("/{id}/pause", h.PauseSubscription)
				r.Patch("/{id}/resume", h.ResumeSubscription)
				r.Get("/{id}/orders", h.GetSubscriptionOrders)
				r.Patch("/{id}", h.EditSubscription)
				r.Delete("/{id}", h.CancelSubscription)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
