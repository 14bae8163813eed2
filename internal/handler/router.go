package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/merch-checkout/internal/domain/auth"
	"github.com/xenking/merch-checkout/internal/domain/order"
	"github.com/xenking/merch-checkout/pkg/httpmiddleware"
)

// RouterConfig assembles the HTTP surface.
type RouterConfig struct {
	Handler  *Handler
	Security *SecurityHandler
	// Middleware runs for every route, outermost first.
	Middleware []httpmiddleware.Middleware
	// APIMiddleware runs for the public /api routes only.
	APIMiddleware []httpmiddleware.Middleware
	Live          http.HandlerFunc
	Ready         http.HandlerFunc
}

// NewRouter returns the chi router serving the API, admin and probe
// endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handler
	r := chi.NewRouter()
	for _, m := range cfg.Middleware {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, order.KindNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, order.KindInvalidPayload, "method not allowed")
	})

	if cfg.Live != nil {
		r.Get("/livez", cfg.Live)
	}
	if cfg.Ready != nil {
		r.Get("/readyz", cfg.Ready)
	}

	r.Route("/api", func(r chi.Router) {
		for _, m := range cfg.APIMiddleware {
			r.Use(m)
		}
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/config", h.GetConfig)
		r.Post("/checkout", h.Checkout)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(cfg.Security.Require(auth.ScopeOrdersRead))
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/fulfillment/test", h.TestFulfillment)
	})

	return r
}
