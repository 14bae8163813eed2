package order

import (
	"strings"
)

// CheckoutRequest is the decoded, not yet validated checkout payload.
type CheckoutRequest struct {
	Address         *Address   `json:"address"`
	LineItems       []LineItem `json:"lineItems"`
	ShippingMethod  string     `json:"shippingMethod"`
	DisplayCurrency string     `json:"displayCurrency,omitempty"`
	ConfirmReal     bool       `json:"confirmReal,omitempty"`
}

// Input is a structurally valid, normalized checkout request.
type Input struct {
	Address         Address
	LineItems       []LineItem
	ShippingMethod  string
	DisplayCurrency string
	ConfirmReal     bool
}

// Validate checks the structure of req and returns its normalized form.
// It has no side effects.
func Validate(req CheckoutRequest, rates RateTable) (Input, error) {
	if req.Address == nil {
		return Input{}, InvalidPayload("address required")
	}
	addr := normalizeAddress(*req.Address)
	if addr.Email == "" {
		return Input{}, InvalidPayload("address email required")
	}
	if addr.AddressLine1 == "" {
		return Input{}, InvalidPayload("address line 1 required")
	}

	if len(req.LineItems) == 0 {
		return Input{}, InvalidPayload("line items required")
	}
	items := make([]LineItem, len(req.LineItems))
	for i, item := range req.LineItems {
		if item.Quantity < 1 {
			return Input{}, InvalidPayload("line item %d: quantity must be at least 1", i)
		}
		if item.UnitPriceCents < 0 {
			return Input{}, InvalidPayload("line item %d: unit price must not be negative", i)
		}
		item.ProductRef = strings.TrimSpace(item.ProductRef)
		item.VariantRef = strings.TrimSpace(item.VariantRef)
		items[i] = item
	}

	currency := strings.ToUpper(strings.TrimSpace(req.DisplayCurrency))
	if currency == "" {
		currency = ReferenceCurrency
	}
	if _, ok := rates.Rate(currency); !ok {
		return Input{}, InvalidPayload("unsupported display currency %q", req.DisplayCurrency)
	}

	return Input{
		Address:         addr,
		LineItems:       items,
		ShippingMethod:  strings.ToLower(strings.TrimSpace(req.ShippingMethod)),
		DisplayCurrency: currency,
		ConfirmReal:     req.ConfirmReal,
	}, nil
}

func normalizeAddress(a Address) Address {
	return Address{
		FirstName:    strings.TrimSpace(a.FirstName),
		LastName:     strings.TrimSpace(a.LastName),
		Email:        strings.TrimSpace(a.Email),
		AddressLine1: strings.TrimSpace(a.AddressLine1),
		City:         strings.TrimSpace(a.City),
		PostalCode:   strings.TrimSpace(a.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(a.Country)),
	}
}
