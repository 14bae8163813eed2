package printify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/merch-checkout/internal/domain/order"
)

var _ order.Fulfillment = (*Client)(nil)

// Printify shipping method codes.
var shippingCodes = map[string]int{
	"standard": 1,
	"priority": 2,
	"express":  3,
	"economy":  4,
}

// Place submits o to the shop. It is never retried: a failed attempt may
// still have created the order upstream. Line items without a numeric
// variant id are rejected as invalid payload before any request is made.
func (c *Client) Place(ctx context.Context, o *order.Order) (order.Placement, error) {
	body, err := encodeOrder(o)
	if err != nil {
		return order.Placement{}, err
	}

	data, err := c.do(ctx, http.MethodPost, c.shopURL("/orders.json", url.Values{}), body)
	if err != nil {
		return order.Placement{}, errors.Wrap(err, "create printify order")
	}

	p, err := decodePlacement(data)
	if err != nil {
		return order.Placement{}, errors.Wrap(err, "decode printify order")
	}
	return p, nil
}

func encodeOrder(o *order.Order) ([]byte, error) {
	variants := make([]int64, len(o.LineItems))
	for i, item := range o.LineItems {
		v, err := strconv.ParseInt(item.VariantRef, 10, 64)
		if err != nil || v <= 0 {
			return nil, order.InvalidPayload("line item %d: variant %q is not a numeric variant id", i, item.VariantRef)
		}
		variants[i] = v
	}
	shipping, ok := shippingCodes[o.ShippingMethod]
	if !ok {
		shipping = shippingCodes["standard"]
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("external_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("label", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("line_items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i, item := range o.LineItems {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(item.ProductRef) })
						e.Field("variant_id", func(e *jx.Encoder) { e.Int64(variants[i]) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
					})
				}
			})
		})
		e.Field("shipping_method", func(e *jx.Encoder) { e.Int(shipping) })
		e.Field("send_shipping_notification", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("metadata", func(e *jx.Encoder) {
			currency := o.DisplayCurrency
			if currency == "" {
				currency = order.ReferenceCurrency
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("client_display_currency", func(e *jx.Encoder) { e.Str(currency) })
				e.Field("client_order_subtotal_cents", func(e *jx.Encoder) { e.Int64(o.SubtotalCents) })
				e.Field("client_shipping_cost_usd_cents", func(e *jx.Encoder) { e.Int64(o.ShippingCents) })
			})
		})
		e.Field("address_to", func(e *jx.Encoder) {
			a := o.Address
			e.Obj(func(e *jx.Encoder) {
				e.Field("first_name", func(e *jx.Encoder) { e.Str(a.FirstName) })
				e.Field("last_name", func(e *jx.Encoder) { e.Str(a.LastName) })
				e.Field("email", func(e *jx.Encoder) { e.Str(a.Email) })
				e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
				e.Field("address1", func(e *jx.Encoder) { e.Str(a.AddressLine1) })
				e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
				e.Field("zip", func(e *jx.Encoder) { e.Str(a.PostalCode) })
			})
		})
	})
	return e.Bytes(), nil
}

// decodePlacement reads the order id and, when present, the charged
// amounts from an order response.
func decodePlacement(data []byte) (order.Placement, error) {
	var (
		p                     order.Placement
		price, shipping       int64
		hasPrice, hasShipping bool
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			id, err := decodeID(d)
			if err != nil {
				return errors.Wrap(err, "id")
			}
			p.ExternalRef = id
		case "total_price":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "total_price")
			}
			price, hasPrice = v, true
		case "total_shipping":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "total_shipping")
			}
			shipping, hasShipping = v, true
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return order.Placement{}, err
	}
	if hasPrice && hasShipping {
		charged := price + shipping
		p.ChargedCents = &charged
	}
	return p, nil
}

// decodeID accepts string and numeric identifiers.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}
