// Package handler exposes the checkout, catalog and admin endpoints over
// HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xenking/merch-checkout/internal/domain/catalog"
	"github.com/xenking/merch-checkout/internal/domain/order"
)

// Pinger tests connectivity to the fulfillment provider.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// BackgroundImage is returned by /api/config for the storefront.
	BackgroundImage string
	// MaxBodyBytes bounds request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the HTTP API on top of the domain services.
type Handler struct {
	orders      *order.Service
	catalog     *catalog.Service
	fulfillment Pinger

	backgroundImage string
	maxBodyBytes    int64
}

// NewHandler constructs a Handler. fulfillment may be nil when no provider
// is configured.
func NewHandler(cfg Config, orders *order.Service, products *catalog.Service, fulfillment Pinger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		orders:          orders,
		catalog:         products,
		fulfillment:     fulfillment,
		backgroundImage: cfg.BackgroundImage,
		maxBodyBytes:    cfg.MaxBodyBytes,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
