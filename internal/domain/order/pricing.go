package order

import (
	"maps"
	"math"
	"math/bits"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ReferenceCurrency is the currency all stored cent amounts are denominated in.
const ReferenceCurrency = "USD"

// ErrUnknownCurrency is returned by ToDisplay for currencies missing from the
// rate table.
var ErrUnknownCurrency = errors.New("unknown currency")

// ShippingMethod is a static shipping option priced in reference cents.
type ShippingMethod struct {
	Key           string `json:"key" yaml:"key"`
	DisplayName   string `json:"displayName" yaml:"display_name"`
	BaseCostCents int64  `json:"baseCostCents" yaml:"base_cost_cents"`
}

// ShippingTable is an immutable set of shipping methods keyed by lower-case key.
type ShippingTable struct {
	methods map[string]ShippingMethod
}

// NewShippingTable copies methods into a read-only table.
func NewShippingTable(methods ...ShippingMethod) (ShippingTable, error) {
	t := ShippingTable{methods: make(map[string]ShippingMethod, len(methods))}
	for _, m := range methods {
		key := strings.ToLower(strings.TrimSpace(m.Key))
		if key == "" {
			return ShippingTable{}, errors.New("shipping method key required")
		}
		if m.BaseCostCents < 0 {
			return ShippingTable{}, errors.Errorf("shipping method %q: negative cost", key)
		}
		if _, dup := t.methods[key]; dup {
			return ShippingTable{}, errors.Errorf("shipping method %q defined twice", key)
		}
		m.Key = key
		t.methods[key] = m
	}
	return t, nil
}

// Lookup returns the method registered under key.
func (t ShippingTable) Lookup(key string) (ShippingMethod, bool) {
	m, ok := t.methods[strings.ToLower(strings.TrimSpace(key))]
	return m, ok
}

// Methods returns all methods sorted by cost, then key.
func (t ShippingTable) Methods() []ShippingMethod {
	out := slices.Collect(maps.Values(t.methods))
	slices.SortFunc(out, func(a, b ShippingMethod) int {
		if a.BaseCostCents != b.BaseCostCents {
			if a.BaseCostCents < b.BaseCostCents {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

// RateTable maps upper-case currency codes to the number of display units
// per reference unit.
type RateTable struct {
	rates map[string]decimal.Decimal
}

// NewRateTable copies rates into a read-only table. The reference currency
// is always present with rate 1.
func NewRateTable(rates map[string]decimal.Decimal) (RateTable, error) {
	t := RateTable{rates: make(map[string]decimal.Decimal, len(rates)+1)}
	for code, rate := range rates {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return RateTable{}, errors.New("currency code required")
		}
		if !rate.IsPositive() {
			return RateTable{}, errors.Errorf("currency %s: rate must be positive", code)
		}
		t.rates[code] = rate
	}
	if r, ok := t.rates[ReferenceCurrency]; ok && !r.Equal(decimal.NewFromInt(1)) {
		return RateTable{}, errors.Errorf("reference currency %s must have rate 1", ReferenceCurrency)
	}
	t.rates[ReferenceCurrency] = decimal.NewFromInt(1)
	return t, nil
}

// Rate returns the rate for code.
func (t RateTable) Rate(code string) (decimal.Decimal, bool) {
	r, ok := t.rates[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// Currencies returns the supported currency codes in sorted order.
func (t RateTable) Currencies() []string {
	return slices.Sorted(maps.Keys(t.rates))
}

// DefaultShippingTable returns the shipping methods offered by the shop.
func DefaultShippingTable() ShippingTable {
	t, _ := NewShippingTable(
		ShippingMethod{Key: "standard", DisplayName: "Standard", BaseCostCents: 985},
		ShippingMethod{Key: "express", DisplayName: "Express", BaseCostCents: 1985},
	)
	return t
}

// DefaultRateTable returns the static display rates relative to USD.
func DefaultRateTable() RateTable {
	t, _ := NewRateTable(map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(1),
		"AUD": decimal.RequireFromString("1.50"),
		"JPY": decimal.NewFromInt(140),
		"EUR": decimal.RequireFromString("0.92"),
		"GBP": decimal.RequireFromString("0.80"),
	})
	return t
}

// Quote is the computed price of a cart.
type Quote struct {
	SubtotalCents int64
	ShippingCents int64
	TotalCents    int64
}

// Price computes the subtotal, shipping and total of items using exact
// integer arithmetic. Amounts that do not fit in int64 are rejected.
func Price(items []LineItem, methods ShippingTable, shippingKey string) (Quote, error) {
	var subtotal int64
	for i, item := range items {
		line, ok := mulCents(item.UnitPriceCents, int64(item.Quantity))
		if !ok {
			return Quote{}, InvalidPayload("line item %d: amount overflows", i)
		}
		if subtotal, ok = addCents(subtotal, line); !ok {
			return Quote{}, InvalidPayload("order subtotal overflows")
		}
	}

	method, ok := methods.Lookup(shippingKey)
	if !ok {
		return Quote{}, newError(KindUnknownShippingMethod, nil, "unknown shipping method %q", shippingKey)
	}

	total, ok := addCents(subtotal, method.BaseCostCents)
	if !ok {
		return Quote{}, InvalidPayload("order total overflows")
	}

	return Quote{
		SubtotalCents: subtotal,
		ShippingCents: method.BaseCostCents,
		TotalCents:    total,
	}, nil
}

// mulCents multiplies two non-negative amounts, reporting overflow.
func mulCents(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// addCents adds two non-negative amounts, reporting overflow.
func addCents(a, b int64) (int64, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 || sum > math.MaxInt64 {
		return 0, false
	}
	return int64(sum), true
}

// ToDisplay converts reference cents into cents of the given display
// currency, rounding half up to the nearest cent. The result is for
// presentation only.
func ToDisplay(cents int64, rates RateTable, code string) (int64, error) {
	if cents < 0 {
		return 0, errors.Errorf("negative amount %d", cents)
	}
	rate, ok := rates.Rate(code)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownCurrency, "currency %q", code)
	}
	converted := decimal.NewFromInt(cents).Mul(rate).Round(0)
	if !converted.LessThanOrEqual(decimal.NewFromInt(math.MaxInt64)) {
		return 0, errors.Errorf("converted amount overflows for %s", code)
	}
	return converted.IntPart(), nil
}
