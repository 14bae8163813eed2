package printify

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/merch-checkout/internal/domain/catalog"
)

var (
	_ catalog.Source       = (*Client)(nil)
	_ catalog.DetailSource = (*Client)(nil)
)

type variant struct {
	id        string
	price     int64
	enabled   bool
	available bool
}

// Products lists up to 50 shop products, each priced by its first
// available variant.
func (c *Client) Products(ctx context.Context) ([]catalog.Product, error) {
	data, err := c.get(ctx, c.shopURL("/products.json", url.Values{"limit": {"50"}}))
	if err != nil {
		return nil, errors.Wrap(err, "list printify products")
	}
	products, err := decodeProducts(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode printify products")
	}
	return products, nil
}

// decodeProducts accepts both the paginated {"data": [...]} envelope and a
// bare array.
func decodeProducts(data []byte) ([]catalog.Product, error) {
	d := jx.DecodeBytes(data)
	var products []catalog.Product
	readArr := func(d *jx.Decoder) error {
		return d.Arr(func(d *jx.Decoder) error {
			doc, err := decodeProduct(d)
			if err != nil {
				return err
			}
			products = append(products, doc.Product)
			return nil
		})
	}

	switch d.Next() {
	case jx.Array:
		if err := readArr(d); err != nil {
			return nil, err
		}
	case jx.Object:
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			if key != "data" {
				return d.Skip()
			}
			return readArr(d)
		}); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unexpected %s", d.Next())
	}
	return products, nil
}

// productDoc is a decoded product with its print profile ids.
type productDoc struct {
	catalog.Product
	blueprintID int64
	providerID  int64
}

func decodeProduct(d *jx.Decoder) (productDoc, error) {
	var (
		doc      productDoc
		variants []variant
	)
	p := &doc.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "blueprint_id":
			doc.blueprintID, err = optInt64(d)
		case "print_provider_id":
			doc.providerID, err = optInt64(d)
		case "id":
			p.ID, err = decodeID(d)
		case "title":
			p.Title, err = optStr(d)
		case "description":
			p.Description, err = optStr(d)
		case "images":
			err = d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "src" || p.Image != "" {
						return d.Skip()
					}
					src, err := optStr(d)
					p.Image = src
					return err
				})
			})
		case "variants":
			err = d.Arr(func(d *jx.Decoder) error {
				v, err := decodeVariant(d)
				variants = append(variants, v)
				return err
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return productDoc{}, err
	}

	p.ProductRef = p.ID
	if p.Title == "" {
		p.Title = "Product"
	}
	if v, ok := chooseVariant(variants); ok {
		p.VariantRef = v.id
		p.PriceCents = v.price
	}
	return doc, nil
}

func decodeVariant(d *jx.Decoder) (variant, error) {
	var v variant
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			v.id, err = decodeID(d)
		case "price":
			v.price, err = d.Int64()
		case "is_enabled":
			v.enabled, err = d.Bool()
		case "is_available":
			v.available, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return v, err
}

func chooseVariant(variants []variant) (variant, bool) {
	for _, v := range variants {
		if v.available || v.enabled {
			return v, true
		}
	}
	if len(variants) > 0 {
		return variants[0], true
	}
	return variant{}, false
}

// optInt64 reads an integer that may be null.
func optInt64(d *jx.Decoder) (int64, error) {
	if d.Next() == jx.Null {
		return 0, d.Null()
	}
	return d.Int64()
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
