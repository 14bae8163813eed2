package printify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/merch-checkout/internal/domain/catalog"
)

// Product fetches a single shop product. The shipping profile of its
// blueprint and print provider is looked up best effort: a failed lookup
// is logged and leaves Detail.Shipping nil.
func (c *Client) Product(ctx context.Context, id string) (catalog.Detail, error) {
	data, err := c.get(ctx, c.shopURL("/products/"+url.PathEscape(id)+".json", url.Values{}))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return catalog.Detail{}, errors.Wrapf(catalog.ErrProductNotFound, "printify product %q", id)
		}
		return catalog.Detail{}, errors.Wrap(err, "get printify product")
	}

	doc, err := decodeProduct(jx.DecodeBytes(data))
	if err != nil {
		return catalog.Detail{}, errors.Wrap(err, "decode printify product")
	}
	d := catalog.Detail{
		Product:         doc.Product,
		BlueprintID:     doc.blueprintID,
		PrintProviderID: doc.providerID,
	}
	if d.BlueprintID == 0 || d.PrintProviderID == 0 {
		return d, nil
	}

	shipping, err := c.Shipping(ctx, d.BlueprintID, d.PrintProviderID)
	if err != nil {
		zctx.From(ctx).Warn("Printify shipping lookup failed",
			zap.String("product_id", id),
			zap.Int64("blueprint_id", d.BlueprintID),
			zap.Int64("print_provider_id", d.PrintProviderID),
			zap.Error(err),
		)
		return d, nil
	}
	d.Shipping = shipping
	return d, nil
}

// Shipping returns the raw shipping profile JSON of a blueprint printed by
// the given provider.
func (c *Client) Shipping(ctx context.Context, blueprint, provider int64) ([]byte, error) {
	u := *c.baseURL
	u.Path += "/v1/catalog/blueprints/" + strconv.FormatInt(blueprint, 10) +
		"/print_providers/" + strconv.FormatInt(provider, 10) + "/shipping.json"

	data, err := c.get(ctx, u.String())
	if err != nil {
		return nil, errors.Wrap(err, "get printify shipping")
	}
	if !jx.Valid(data) {
		return nil, errors.New("printify shipping: invalid JSON")
	}
	return data, nil
}
