package api

import (
	"net/http"

	"github.com/example/storefront-checkout/internal/api/middleware"
	"github.com/example/storefront-checkout/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Handlers *Handlers
	Verifier middleware.TokenVerifier
	Logger   zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	h := cfg.Handlers
	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Verifier))

		r.Post("/checkout", h.PlaceOrder)
		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{orderID}", h.GetOrder)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))
			r.Get("/inventory/{productID}", h.GetInventory)
			r.Put("/inventory/{productID}", h.PutInventory)
		})
	})

	return r
}
