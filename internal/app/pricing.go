package app

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/merch-checkout/internal/domain/order"
)

// pricingFile is the YAML layout of the pricing tables.
type pricingFile struct {
	Shipping []order.ShippingMethod `yaml:"shipping"`
	// Rates maps currency codes to decimal strings, e.g. EUR: "0.92".
	Rates map[string]string `yaml:"rates"`
}

// LoadPricing reads the shipping and rate tables from path. An empty path
// yields the built-in tables; a file may override either table alone.
func LoadPricing(path string) (order.ShippingTable, order.RateTable, error) {
	shipping, rates := order.DefaultShippingTable(), order.DefaultRateTable()
	if path == "" {
		return shipping, rates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return shipping, rates, errors.Wrap(err, "read pricing file")
	}
	return parsePricing(data)
}

func parsePricing(data []byte) (order.ShippingTable, order.RateTable, error) {
	shipping, rates := order.DefaultShippingTable(), order.DefaultRateTable()

	var f pricingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return shipping, rates, errors.Wrap(err, "decode pricing file")
	}

	if len(f.Shipping) > 0 {
		t, err := order.NewShippingTable(f.Shipping...)
		if err != nil {
			return shipping, rates, errors.Wrap(err, "shipping table")
		}
		shipping = t
	}

	if len(f.Rates) > 0 {
		parsed := make(map[string]decimal.Decimal, len(f.Rates))
		for code, raw := range f.Rates {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return shipping, rates, errors.Wrapf(err, "rate %s", code)
			}
			parsed[code] = d
		}
		t, err := order.NewRateTable(parsed)
		if err != nil {
			return shipping, rates, errors.Wrap(err, "rate table")
		}
		rates = t
	}

	return shipping, rates, nil
}
