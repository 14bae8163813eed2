package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	e2eAdminToken = "e2e-admin-token-0123"
	checkoutBody  = `{
		"address": {"firstName": "Ada", "email": "ada@example.com", "addressLine1": "1 Main St",
			"city": "Springfield", "postalCode": "12345", "country": "US"},
		"lineItems": [
			{"productRef": "p1", "variantRef": "17887", "quantity": 2, "unitPriceCents": 1999},
			{"productRef": "p2", "variantRef": "17888", "quantity": 1, "unitPriceCents": 499}
		],
		"shippingMethod": "standard",
		"confirmReal": true
	}`
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		AdminToken:   e2eAdminToken,
		APIKeyPepper: "e2e-pepper",
		Storage:      StorageConfig{Driver: DriverFile, Dir: t.TempDir()},
		Timeouts:     TimeoutConfig{External: 2 * time.Second, Store: time.Second, Notify: time.Second},
		RateLimit:    RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:         CORSConfig{Origins: []string{"*"}},
		Redis:        RedisConfig{CatalogTTL: time.Minute},
	}
}

func startService(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := newService(ctx, zap.NewNop(), cfg, metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	require.NoError(t, err)
	svc.health.Start(ctx, time.Minute)
	svc.health.SetReady(true)

	srv := httptest.NewServer(svc.handler)
	t.Cleanup(func() {
		srv.Close()
		svc.health.Stop()
		svc.close()
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func adminHeader() http.Header {
	return http.Header{"Authorization": {"Bearer " + e2eAdminToken}}
}

func TestService_CheckoutAndLookup(t *testing.T) {
	cfg := testConfig(t)
	srv := startService(t, cfg)

	resp, body := call(t, srv, http.MethodPost, "/api/checkout", checkoutBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var created struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		TotalCents int64  `json:"totalCents"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "simulated", created.Status)
	assert.Equal(t, int64(5482), created.TotalCents)
	assert.FileExists(t, filepath.Join(cfg.Storage.Dir, created.ID+".json"))

	resp, body = call(t, srv, http.MethodGet, "/admin/orders/"+created.ID, "", adminHeader())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"subtotalCents":4497`)

	resp, body = call(t, srv, http.MethodGet, "/admin/orders", "", adminHeader())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0]["id"])

	resp, _ = call(t, srv, http.MethodGet, "/admin/orders/missing", "", adminHeader())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/admin/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestService_EmptyItemsRejected(t *testing.T) {
	cfg := testConfig(t)
	srv := startService(t, cfg)

	resp, body := call(t, srv, http.MethodPost, "/api/checkout",
		`{"address":{"email":"a@b.c","addressLine1":"x"},"lineItems":[],"shippingMethod":"standard"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"kind":"InvalidPayload"`)

	entries, err := os.ReadDir(cfg.Storage.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_Probes(t *testing.T) {
	srv := startService(t, testConfig(t))

	resp, body := call(t, srv, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = call(t, srv, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "orders-dir")
}

func TestService_CORSPreflight(t *testing.T) {
	srv := startService(t, testConfig(t))

	resp, _ := call(t, srv, http.MethodOptions, "/api/checkout", "", http.Header{
		"Origin":                        {"https://shop.example.com"},
		"Access-Control-Request-Method": {"POST"},
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestService_Maintenance(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance = MaintenanceConfig{Enabled: true, RetryAfter: time.Minute, BypassToken: "let-me-in"}
	srv := startService(t, cfg)

	resp, body := call(t, srv, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Contains(t, string(body), "Maintenance")

	resp, _ = call(t, srv, http.MethodGet, "/api/config", "", http.Header{"X-Maintenance-Bypass": {"let-me-in"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, srv, http.MethodGet, "/admin/orders", "", adminHeader())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestService_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = RateLimitConfig{Max: 2, Window: time.Hour}
	srv := startService(t, cfg)

	for range 2 {
		resp, _ := call(t, srv, http.MethodGet, "/api/config", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := call(t, srv, http.MethodGet, "/api/config", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, string(body), "RateLimited")
}

func TestService_Printify(t *testing.T) {
	var catalogHits, orderHits atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/shops/shop1/products.json":
			if r.URL.Query().Get("limit") != "1" {
				catalogHits.Add(1)
			}
			_, _ = w.Write([]byte(`{"data":[{"id":"abc","title":"Hoodie","variants":[{"id":2,"price":3500,"is_enabled":true}]}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/shops/shop1/products/abc.json":
			_, _ = w.Write([]byte(`{"id":"abc","title":"Hoodie","blueprint_id":77,"print_provider_id":29,"variants":[{"id":2,"price":3500,"is_enabled":true}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/catalog/blueprints/77/print_providers/29/shipping.json":
			_, _ = w.Write([]byte(`{"handling_time":{"value":3,"unit":"day"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/shops/shop1/orders.json":
			orderHits.Add(1)
			_, _ = w.Write([]byte(`{"id":"pf-order-1"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(provider.Close)
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.SafeMode = true
	cfg.Printify = PrintifyConfig{BaseURL: provider.URL, Token: "tok", ShopID: "shop1", Timeout: time.Second, MaxTries: 1}
	cfg.Redis.Addr = mr.Addr()
	srv := startService(t, cfg)

	for range 2 {
		resp, body := call(t, srv, http.MethodGet, "/api/products?currency=GBP", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), `"title":"Hoodie"`)
		assert.Contains(t, string(body), `"displayPriceCents":2800`)
	}
	assert.Equal(t, int32(1), catalogHits.Load())

	resp, body := call(t, srv, http.MethodGet, "/api/products/abc", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"blueprintId":77`)
	assert.Contains(t, string(body), `"shipping":{"handling_time":{"value":3,"unit":"day"}}`)

	resp, _ = call(t, srv, http.MethodGet, "/api/products/gone", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = call(t, srv, http.MethodPost, "/api/checkout", checkoutBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"placed"`)
	assert.Contains(t, string(body), `"externalOrderRef":"pf-order-1"`)
	assert.Equal(t, int32(1), orderHits.Load())

	resp, _ = call(t, srv, http.MethodGet, "/admin/fulfillment/test", "", adminHeader())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = call(t, srv, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"fulfillmentConfigured":true`)
}

func TestNewService_InvalidPricing(t *testing.T) {
	cfg := testConfig(t)
	cfg.PricingFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newService(context.Background(), zap.NewNop(), cfg, metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	assert.Error(t, err)
}
