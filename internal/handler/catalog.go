package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/merch-checkout/internal/domain/catalog"
	"github.com/xenking/merch-checkout/internal/domain/order"
)

type productResponse struct {
	catalog.Product
	Currency          string `json:"currency"`
	DisplayPriceCents int64  `json:"displayPriceCents"`
}

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	currency, ok := h.displayCurrency(w, r)
	if !ok {
		return
	}
	rates := h.orders.Rates()

	products, err := h.catalog.Products(ctx)
	if err != nil {
		zctx.From(ctx).Error("Catalog unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, order.KindExternalProvider, "catalog unavailable")
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		display, err := order.ToDisplay(p.PriceCents, rates, currency)
		if err != nil {
			zctx.From(ctx).Warn("Skipping product with invalid price",
				zap.String("product_id", p.ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, productResponse{
			Product:           p,
			Currency:          currency,
			DisplayPriceCents: display,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

var productIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type productDetailResponse struct {
	Product         productResponse `json:"product"`
	BlueprintID     int64           `json:"blueprintId,omitempty"`
	PrintProviderID int64           `json:"printProviderId,omitempty"`
	Shipping        json.RawMessage `json:"shipping"`
}

// GetProduct handles GET /api/products/{id}. A missing shipping profile is
// reported as null.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !productIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, order.KindInvalidPayload, "invalid product id")
		return
	}
	currency, ok := h.displayCurrency(w, r)
	if !ok {
		return
	}

	d, err := h.catalog.Product(ctx, id)
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		writeError(w, http.StatusNotFound, order.KindNotFound, "product not found")
		return
	case err != nil:
		zctx.From(ctx).Error("Product lookup failed", zap.String("product_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, order.KindExternalProvider, "catalog unavailable")
		return
	}

	display, err := order.ToDisplay(d.Product.PriceCents, h.orders.Rates(), currency)
	if err != nil {
		zctx.From(ctx).Warn("Product has invalid price", zap.String("product_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, productDetailResponse{
		Product: productResponse{
			Product:           d.Product,
			Currency:          currency,
			DisplayPriceCents: display,
		},
		BlueprintID:     d.BlueprintID,
		PrintProviderID: d.PrintProviderID,
		Shipping:        d.Shipping,
	})
}

type configResponse struct {
	BackgroundImage       string                 `json:"backgroundImage,omitempty"`
	SafeMode              bool                   `json:"safeMode"`
	FulfillmentConfigured bool                   `json:"fulfillmentConfigured"`
	ReferenceCurrency     string                 `json:"referenceCurrency"`
	Currencies            []string               `json:"currencies"`
	ShippingMethods       []order.ShippingMethod `json:"shippingMethods"`
}

// GetConfig handles GET /api/config.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		BackgroundImage:       h.backgroundImage,
		SafeMode:              h.orders.SafeMode(),
		FulfillmentConfigured: h.orders.FulfillmentEnabled(),
		ReferenceCurrency:     order.ReferenceCurrency,
		Currencies:            h.orders.Rates().Currencies(),
		ShippingMethods:       h.orders.Shipping().Methods(),
	})
}

// TestFulfillment handles GET /admin/fulfillment/test.
func (h *Handler) TestFulfillment(w http.ResponseWriter, r *http.Request) {
	if h.fulfillment == nil {
		writeError(w, http.StatusBadRequest, order.KindInvalidPayload, "fulfillment provider not configured")
		return
	}
	if err := h.fulfillment.Ping(r.Context()); err != nil {
		zctx.From(r.Context()).Warn("Fulfillment provider check failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, order.KindExternalProvider, "fulfillment provider unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// displayCurrency reads the currency query parameter, defaulting to the
// reference currency. Unsupported currencies are answered with 400.
func (h *Handler) displayCurrency(w http.ResponseWriter, r *http.Request) (string, bool) {
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if currency == "" {
		currency = order.ReferenceCurrency
	}
	if _, ok := h.orders.Rates().Rate(currency); !ok {
		writeError(w, http.StatusBadRequest, order.KindInvalidPayload, "unsupported currency "+currency)
		return "", false
	}
	return currency, true
}
