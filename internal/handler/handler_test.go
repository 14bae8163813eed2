package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/merch-checkout/internal/domain/auth"
	"github.com/xenking/merch-checkout/internal/domain/catalog"
	"github.com/xenking/merch-checkout/internal/domain/order"
	"github.com/xenking/merch-checkout/pkg/httpmiddleware"
)

const (
	testPepper = "pepper"
	testToken  = "admin-secret"
)

// --- Mock implementations ---

type memRepo struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	createErr error
	listErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[string]*order.Order)}
}

func (m *memRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.orders[o.ID]; ok {
		return order.ErrDuplicateOrderID
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memRepo) List(_ context.Context) iter.Seq2[order.Summary, error] {
	return func(yield func(order.Summary, error) bool) {
		m.mu.Lock()
		out := make([]order.Summary, 0, len(m.orders))
		for _, o := range m.orders {
			out = append(out, o.Summary())
		}
		listErr := m.listErr
		m.mu.Unlock()
		slices.SortFunc(out, func(a, b order.Summary) int { return b.CreatedAt.Compare(a.CreatedAt) })
		for _, s := range out {
			if !yield(s, nil) {
				return
			}
		}
		if listErr != nil {
			yield(order.Summary{}, listErr)
		}
	}
}

func (m *memRepo) put(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockFulfillment struct {
	placement order.Placement
	err       error
	pingErr   error
}

func (m *mockFulfillment) Place(context.Context, *order.Order) (order.Placement, error) {
	return m.placement, m.err
}

func (m *mockFulfillment) Ping(context.Context) error {
	return m.pingErr
}

type mockSource struct {
	products []catalog.Product
	err      error
}

func (m *mockSource) Products(context.Context) ([]catalog.Product, error) {
	return m.products, m.err
}

type mockDetails struct {
	detail catalog.Detail
	err    error
	seen   string
}

func (m *mockDetails) Product(_ context.Context, id string) (catalog.Detail, error) {
	m.seen = id
	return m.detail, m.err
}

func withDetails(src catalog.DetailSource) envOption {
	return func(c *envConfig) {
		c.catalogOpts = append(c.catalogOpts, catalog.WithDetails(src))
	}
}

// --- Helpers ---

type testEnv struct {
	repo   *memRepo
	router http.Handler
}

type envOption func(*envConfig)

type envConfig struct {
	orderOpts   []order.Option
	catalogOpts []catalog.Option
	pinger      Pinger
	apiMW       []httpmiddleware.Middleware
	safeMode    bool
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	var cfg envConfig
	for _, o := range opts {
		o(&cfg)
	}

	repo := newMemRepo()
	orderOpts := append([]order.Option{order.WithMeterProvider(noop.NewMeterProvider())}, cfg.orderOpts...)
	svc, err := order.NewService(order.Config{
		Shipping: order.DefaultShippingTable(),
		Rates:    order.DefaultRateTable(),
		SafeMode: cfg.safeMode,
	}, repo, orderOpts...)
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	h := NewHandler(Config{BackgroundImage: "/bg.jpg"}, svc, catalog.NewService(cfg.catalogOpts...), cfg.pinger)
	keys := auth.NewStaticRepository(
		auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: auth.HashKey([]byte(testPepper), testToken),
			Scopes:  []string{auth.ScopeOrdersRead},
		},
		auth.APIKeyInfo{
			ID:      "noscope",
			KeyHash: auth.HashKey([]byte(testPepper), "weak"),
		},
	)
	router := NewRouter(RouterConfig{
		Handler:       h,
		Security:      NewSecurityHandler(keys, []byte(testPepper)),
		APIMiddleware: cfg.apiMW,
		Live:          func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
	})
	return &testEnv{repo: repo, router: router}
}

func withFulfillment(f *mockFulfillment) envOption {
	return func(c *envConfig) {
		c.orderOpts = append(c.orderOpts, order.WithFulfillment(f))
		c.pinger = f
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, http.NoBody)
	}
	for k, v := range header {
		for _, vv := range v {
			r.Header.Add(k, vv)
		}
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httpmiddleware.ErrorBody {
	t.Helper()
	var body httpmiddleware.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

const scenarioBody = `{
	"address": {"firstName": "Ada", "email": "ada@example.com", "addressLine1": "1 Main St",
		"city": "Springfield", "postalCode": "12345", "country": "us"},
	"lineItems": [
		{"productRef": "p1", "variantRef": "17887", "quantity": 2, "unitPriceCents": 1999},
		{"productRef": "p2", "variantRef": "17888", "quantity": 1, "unitPriceCents": 499}
	],
	"shippingMethod": "standard"
}`

// --- Checkout ---

func TestCheckout_Simulated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/checkout", scenarioBody, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, order.StatusSimulated, resp.Status)
	assert.Equal(t, int64(4497), resp.SubtotalCents)
	assert.Equal(t, int64(985), resp.ShippingCents)
	assert.Equal(t, int64(5482), resp.TotalCents)
	assert.Empty(t, resp.ExternalOrderRef)
	assert.Equal(t, displayAmount{Currency: "USD", TotalCents: 5482}, resp.Display)
	assert.Equal(t, 1, env.repo.count())
}

func TestCheckout_DisplayCurrency(t *testing.T) {
	env := newTestEnv(t)
	body := strings.Replace(scenarioBody, `"shippingMethod": "standard"`,
		`"shippingMethod": "standard", "displayCurrency": "jpy"`, 1)

	w := env.do(t, http.MethodPost, "/api/checkout", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(5482), resp.TotalCents)
	assert.Equal(t, displayAmount{Currency: "JPY", TotalCents: 767480}, resp.Display)
}

func TestCheckout_Placed(t *testing.T) {
	f := &mockFulfillment{placement: order.Placement{ExternalRef: "pf-1"}}
	env := newTestEnv(t, withFulfillment(f), func(c *envConfig) { c.safeMode = true })

	w := env.do(t, http.MethodPost, "/api/checkout", scenarioBody, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, order.StatusPlaced, resp.Status)
	assert.Equal(t, "pf-1", resp.ExternalOrderRef)
}

func TestCheckout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		env    []envOption
		repo   func(*memRepo)
		status int
		kind   order.Kind
	}{
		{
			name:   "EmptyItems",
			body:   `{"address":{"email":"a@b.c","addressLine1":"x"},"lineItems":[],"shippingMethod":"standard"}`,
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "MalformedJSON",
			body:   `{"address":`,
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "EmptyBody",
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "TrailingData",
			body:   scenarioBody + `{}`,
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "UnknownField",
			body:   strings.Replace(scenarioBody, `"shippingMethod"`, `"bogus": true, "shippingMethod"`, 1),
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "ClientTotal",
			body:   strings.Replace(scenarioBody, `"shippingMethod"`, `"totalCents": 1, "shippingMethod"`, 1),
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "SnakeCaseItems",
			body:   `{"address":{"email":"a@b.c","addressLine1":"x"},"line_items":"x","shippingMethod":"standard"}`,
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "UnknownNestedField",
			body:   strings.Replace(scenarioBody, `"quantity": 2`, `"quantity": 2, "priceCents": 1`, 1),
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "WrongType",
			body:   strings.Replace(scenarioBody, `"quantity": 2`, `"quantity": "2"`, 1),
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "UnknownShipping",
			body:   strings.Replace(scenarioBody, `"standard"`, `"teleport"`, 1),
			status: http.StatusBadRequest,
			kind:   order.KindUnknownShippingMethod,
		},
		{
			name: "ProviderError",
			body: strings.Replace(scenarioBody, `"shippingMethod"`, `"confirmReal": true, "shippingMethod"`, 1),
			env: []envOption{withFulfillment(&mockFulfillment{
				err: errors.New("connection refused"),
			})},
			status: http.StatusBadGateway,
			kind:   order.KindExternalProvider,
		},
		{
			name:   "StorageError",
			body:   scenarioBody,
			repo:   func(m *memRepo) { m.createErr = errors.New("disk full") },
			status: http.StatusInternalServerError,
			kind:   order.KindStorage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.env...)
			if tt.repo != nil {
				tt.repo(env.repo)
			}

			w := env.do(t, http.MethodPost, "/api/checkout", tt.body, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeError(t, w)
			assert.Equal(t, string(tt.kind), body.Kind)
			assert.NotEmpty(t, body.Message)
			assert.NotContains(t, body.Message, "disk full")
			assert.Zero(t, env.repo.count())
		})
	}
}

func TestCheckout_DecodeMessages(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/checkout",
		strings.Replace(scenarioBody, `"shippingMethod"`, `"bogus": true, "shippingMethod"`, 1), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, `unknown field "bogus"`, decodeError(t, w).Message)

	w = env.do(t, http.MethodPost, "/api/checkout",
		strings.Replace(scenarioBody, `"quantity": 2`, `"quantity": "2"`, 1), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "quantity")
	assert.Zero(t, env.repo.count())
}

func TestCheckout_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	body := `{"address":{"firstName":"` + strings.Repeat("a", 2<<20) + `"}}`

	w := env.do(t, http.MethodPost, "/api/checkout", body, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "request body too large", decodeError(t, w).Message)
}

// --- Admin ---

func TestAdmin_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{name: "NoToken", status: http.StatusUnauthorized},
		{name: "WrongToken", header: bearer("nope"), status: http.StatusUnauthorized},
		{name: "WrongScheme", header: http.Header{"Authorization": {"Basic " + testToken}}, status: http.StatusUnauthorized},
		{name: "MissingScope", header: bearer("weak"), status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range []string{"/admin/orders", "/admin/orders/x", "/admin/fulfillment/test"} {
				w := env.do(t, http.MethodGet, target, "", tt.header)
				assert.Equal(t, tt.status, w.Code, target)
				assert.Equal(t, string(order.KindUnauthorized), decodeError(t, w).Kind)
			}
		})
	}
}

func TestAdmin_APIKeyHeader(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/admin/orders", "", http.Header{APIKeyHeader: {testToken}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_GetOrder(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/checkout", scenarioBody, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var created checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodGet, "/admin/orders/"+created.ID, "", bearer(testToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got order.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(5482), got.TotalCents)
	assert.Equal(t, "ada@example.com", got.Address.Email)
	assert.Len(t, got.LineItems, 2)

	w = env.do(t, http.MethodGet, "/admin/orders/missing", "", bearer(testToken))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(order.KindNotFound), decodeError(t, w).Kind)
}

func TestAdmin_ListOrders(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		env.repo.put(&order.Order{
			ID:         id,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			Status:     order.StatusSimulated,
			TotalCents: int64(100 * (i + 1)),
			Address:    order.Address{Email: "secret@example.com"},
		})
	}

	w := env.do(t, http.MethodGet, "/admin/orders", "", bearer(testToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret@example.com")

	var got []order.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, int64(300), got[0].TotalCents)
	assert.True(t, got[0].CreatedAt.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, order.StatusSimulated, got[0].Status)
}

func TestAdmin_ListOrdersEmpty(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/admin/orders", "", bearer(testToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAdmin_ListOrdersStorageError(t *testing.T) {
	env := newTestEnv(t)
	env.repo.listErr = errors.New("io error")

	w := env.do(t, http.MethodGet, "/admin/orders", "", bearer(testToken))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(order.KindStorage), decodeError(t, w).Kind)
}

func TestAdmin_ListOrdersAbortsMidStream(t *testing.T) {
	env := newTestEnv(t)
	env.repo.put(&order.Order{ID: "a", Status: order.StatusSimulated})
	env.repo.listErr = errors.New("io error")

	r := httptest.NewRequest(http.MethodGet, "/admin/orders", http.NoBody)
	r.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		env.router.ServeHTTP(w, r)
	})
	assert.False(t, json.Valid(w.Body.Bytes()))
}

func TestAdmin_FulfillmentTest(t *testing.T) {
	t.Run("NotConfigured", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodGet, "/admin/fulfillment/test", "", bearer(testToken))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("Reachable", func(t *testing.T) {
		env := newTestEnv(t, withFulfillment(&mockFulfillment{}))
		w := env.do(t, http.MethodGet, "/admin/fulfillment/test", "", bearer(testToken))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	})
	t.Run("Unreachable", func(t *testing.T) {
		env := newTestEnv(t, withFulfillment(&mockFulfillment{pingErr: errors.New("401")}))
		w := env.do(t, http.MethodGet, "/admin/fulfillment/test", "", bearer(testToken))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, string(order.KindExternalProvider), decodeError(t, w).Kind)
	})
}

// --- Catalog and config ---

func TestListProducts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/products?currency=eur", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got []productResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, int64(1999), got[0].PriceCents)
	assert.Equal(t, "EUR", got[0].Currency)
	assert.Equal(t, int64(1839), got[0].DisplayPriceCents)
}

func TestListProducts_DefaultCurrency(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []productResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotEmpty(t, got)
	assert.Equal(t, "USD", got[0].Currency)
	assert.Equal(t, got[0].PriceCents, got[0].DisplayPriceCents)
}

func TestListProducts_Errors(t *testing.T) {
	t.Run("UnknownCurrency", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodGet, "/api/products?currency=XYZ", "", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(order.KindInvalidPayload), decodeError(t, w).Kind)
	})
	t.Run("SourceDown", func(t *testing.T) {
		src := &mockSource{err: errors.New("timeout")}
		env := newTestEnv(t, func(c *envConfig) {
			c.catalogOpts = append(c.catalogOpts, catalog.WithPrimary(src))
		})
		w := env.do(t, http.MethodGet, "/api/products", "", nil)
		require.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, string(order.KindExternalProvider), decodeError(t, w).Kind)
	})
}

func TestGetProduct_Static(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/products/p1?currency=eur", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got productDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "p1", got.Product.ID)
	assert.Equal(t, "T-Shirt - Minimal", got.Product.Title)
	assert.Equal(t, "EUR", got.Product.Currency)
	assert.Equal(t, int64(1839), got.Product.DisplayPriceCents)
	assert.Equal(t, "null", string(got.Shipping))
}

func TestGetProduct_Placeholder(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/products/5bfd0b66a342bcc9b5563216", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got productDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "5bfd0b66a342bcc9b5563216", got.Product.ID)
	assert.Equal(t, "Sample product", got.Product.Title)
	assert.NotEmpty(t, got.Product.Description)
	assert.Zero(t, got.Product.PriceCents)
}

func TestGetProduct_WithShipping(t *testing.T) {
	src := &mockDetails{detail: catalog.Detail{
		Product:         catalog.Product{ID: "abc", Title: "Hoodie", PriceCents: 3500, VariantRef: "2"},
		BlueprintID:     77,
		PrintProviderID: 29,
		Shipping:        []byte(`{"handling_time":{"value":3,"unit":"day"}}`),
	}}
	env := newTestEnv(t, withDetails(src))

	w := env.do(t, http.MethodGet, "/api/products/abc?currency=jpy", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "abc", src.seen)

	var got productDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Hoodie", got.Product.Title)
	assert.Equal(t, int64(490000), got.Product.DisplayPriceCents)
	assert.Equal(t, int64(77), got.BlueprintID)
	assert.Equal(t, int64(29), got.PrintProviderID)
	assert.JSONEq(t, `{"handling_time":{"value":3,"unit":"day"}}`, string(got.Shipping))
}

func TestGetProduct_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
		kind   order.Kind
	}{
		{
			name:   "NotFound",
			target: "/api/products/missing",
			err:    errors.Wrap(catalog.ErrProductNotFound, "printify product"),
			status: http.StatusNotFound,
			kind:   order.KindNotFound,
		},
		{
			name:   "ProviderDown",
			target: "/api/products/abc",
			err:    errors.New("printify: status 503"),
			status: http.StatusBadGateway,
			kind:   order.KindExternalProvider,
		},
		{
			name:   "InvalidID",
			target: "/api/products/a.b",
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
		{
			name:   "UnknownCurrency",
			target: "/api/products/abc?currency=XYZ",
			status: http.StatusBadRequest,
			kind:   order.KindInvalidPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockDetails{err: tt.err}
			env := newTestEnv(t, withDetails(src))

			w := env.do(t, http.MethodGet, tt.target, "", nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeError(t, w)
			assert.Equal(t, string(tt.kind), body.Kind)
			assert.NotContains(t, body.Message, "503")
		})
	}
}

func TestGetConfig(t *testing.T) {
	env := newTestEnv(t, withFulfillment(&mockFulfillment{}))

	w := env.do(t, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got configResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "/bg.jpg", got.BackgroundImage)
	assert.False(t, got.SafeMode)
	assert.True(t, got.FulfillmentConfigured)
	assert.Equal(t, "USD", got.ReferenceCurrency)
	assert.Equal(t, []string{"AUD", "EUR", "GBP", "JPY", "USD"}, got.Currencies)
	require.Len(t, got.ShippingMethods, 2)
	assert.Equal(t, "standard", got.ShippingMethods[0].Key)
	assert.Equal(t, int64(985), got.ShippingMethods[0].BaseCostCents)
}

// --- Routing ---

func TestRouter_APIMiddlewareScope(t *testing.T) {
	var hits []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits = append(hits, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	env := newTestEnv(t, func(c *envConfig) { c.apiMW = append(c.apiMW, mw) })

	env.do(t, http.MethodGet, "/api/config", "", nil)
	env.do(t, http.MethodGet, "/admin/orders", "", bearer(testToken))
	env.do(t, http.MethodGet, "/livez", "", nil)

	assert.Equal(t, []string{"/api/config"}, hits)
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(order.KindNotFound), decodeError(t, w).Kind)

	w = env.do(t, http.MethodDelete, "/api/checkout", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind order.Kind
		want int
	}{
		{order.KindInvalidPayload, http.StatusBadRequest},
		{order.KindUnknownShippingMethod, http.StatusBadRequest},
		{order.KindExternalProvider, http.StatusBadGateway},
		{order.KindDuplicateOrderID, http.StatusInternalServerError},
		{order.KindStorage, http.StatusInternalServerError},
		{order.KindNotFound, http.StatusNotFound},
		{order.KindUnauthorized, http.StatusUnauthorized},
		{order.Kind("Other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.kind))
		})
	}
}

func TestWriteDomainError_HidesUnclassified(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	writeDomainError(w, r, errors.New("pq: password authentication failed"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, httpmiddleware.ErrorBody{Kind: "StorageError", Message: "internal error"}, decodeError(t, w))
	assert.False(t, bytes.Contains(w.Body.Bytes(), []byte("password")))
}

func TestWriteDomainError_RequestID(t *testing.T) {
	h := httpmiddleware.RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDomainError(w, r, errors.New("boom"))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	id := w.Header().Get(httpmiddleware.RequestIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, "internal error (request "+id+")", decodeError(t, w).Message)
}
