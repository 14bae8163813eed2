package catalog

import "context"

// StaticSource serves the built-in sample catalog used when no
// fulfillment provider is configured.
type StaticSource struct{}

var staticProducts = []Product{
	{
		ID:          "p1",
		Title:       "T-Shirt - Minimal",
		Description: "Fallback sample item",
		PriceCents:  1999,
		ProductRef:  "5bfd0b66a342bcc9b5563216",
		VariantRef:  "17887",
		Image:       "https://via.placeholder.com/600x600?text=T-Shirt",
	},
	{
		ID:          "p2",
		Title:       "Sticker Pack",
		Description: "Fallback sample item",
		PriceCents:  499,
		ProductRef:  "5bfd0b66a342bcc9b5563217",
		VariantRef:  "17888",
		Image:       "https://via.placeholder.com/600x600?text=Sticker",
	},
}

// Products returns a copy of the sample catalog.
func (StaticSource) Products(context.Context) ([]Product, error) {
	out := make([]Product, len(staticProducts))
	copy(out, staticProducts)
	return out, nil
}

// Product returns the sample product with the given id, or a placeholder
// describing the missing provider configuration.
func (StaticSource) Product(_ context.Context, id string) (Detail, error) {
	for _, p := range staticProducts {
		if p.ID == id {
			return Detail{Product: p}, nil
		}
	}
	return Detail{Product: Product{
		ID:          id,
		Title:       "Sample product",
		Description: "No fulfillment provider configured. Set the Printify token and shop id to fetch real product data.",
	}}, nil
}
