package order

import (
	"context"
	"iter"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors returned by Repository implementations.
var (
	ErrNotFound         = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("duplicate order id")
)

// Status is the lifecycle state of a persisted order.
type Status string

const (
	// StatusSimulated marks an order persisted without external fulfillment.
	StatusSimulated Status = "simulated"
	// StatusPlaced marks an order accepted by the fulfillment provider.
	StatusPlaced Status = "placed"
	// StatusFailed marks an order that could not be completed.
	StatusFailed Status = "failed"
)

// rank orders statuses so that transitions only move forward.
func (s Status) rank() int {
	switch s {
	case StatusSimulated, StatusPlaced:
		return 1
	case StatusFailed:
		return 2
	default:
		return 0
	}
}

// CanAdvance reports whether an order in status s may move to next.
func (s Status) CanAdvance(next Status) bool {
	return next.rank() > s.rank()
}

// LineItem is one product/variant/quantity tuple within an order.
type LineItem struct {
	ProductRef     string `json:"productRef"`
	VariantRef     string `json:"variantRef"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

// Address is the shipping destination of an order.
type Address struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName,omitempty"`
	Email        string `json:"email"`
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
}

// Order is a validated, priced customer purchase. All monetary fields are
// denominated in the reference currency.
type Order struct {
	ID               string     `json:"id"`
	CreatedAt        time.Time  `json:"createdAt"`
	Status           Status     `json:"status"`
	LineItems        []LineItem `json:"lineItems"`
	SubtotalCents    int64      `json:"subtotalCents"`
	ShippingCents    int64      `json:"shippingCents"`
	TotalCents       int64      `json:"totalCents"`
	ShippingMethod   string     `json:"shippingMethod"`
	DisplayCurrency  string     `json:"displayCurrency"`
	Address          Address    `json:"address"`
	ExternalOrderRef string     `json:"externalOrderRef,omitempty"`
}

// Advance moves the order to next, refusing backward transitions.
func (o *Order) Advance(next Status) error {
	if !o.Status.CanAdvance(next) {
		return errors.Errorf("order %s: cannot move from %q to %q", o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}

// AttachExternalRef records the provider reference. It can be set only once.
func (o *Order) AttachExternalRef(ref string) error {
	if o.ExternalOrderRef != "" {
		return errors.Errorf("order %s: external reference already set", o.ID)
	}
	o.ExternalOrderRef = ref
	return nil
}

// Summary returns the listing projection of the order.
func (o *Order) Summary() Summary {
	return Summary{
		ID:         o.ID,
		CreatedAt:  o.CreatedAt,
		TotalCents: o.TotalCents,
		Status:     o.Status,
	}
}

// Summary is the listing view of an order. It intentionally carries neither
// the address nor the line items.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	TotalCents int64     `json:"totalCents"`
	Status     Status    `json:"status"`
}

// Repository persists orders. Create must be an atomic insert-if-absent.
type Repository interface {
	// Create stores o, returning ErrDuplicateOrderID when the id is taken.
	Create(ctx context.Context, o *Order) error
	// Get returns the order with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// List lazily yields summaries of all stored orders, newest first.
	List(ctx context.Context) iter.Seq2[Summary, error]
}

// Placement is the result of a successful external fulfillment call.
type Placement struct {
	ExternalRef string
	// ChargedCents is the amount the provider reports, if it reports one.
	ChargedCents *int64
}

// Fulfillment places orders with an external print-on-demand provider.
// Place may return an InvalidPayload error for orders the provider cannot
// represent; such errors reach the caller unchanged.
type Fulfillment interface {
	Place(ctx context.Context, o *Order) (Placement, error)
}

// Confirmation is the rendered input for an order confirmation message.
type Confirmation struct {
	Order *Order
	To    string
	// DisplayTotalCents is Order.TotalCents converted to Order.DisplayCurrency.
	DisplayTotalCents int64
}

// Notifier delivers order confirmations.
type Notifier interface {
	Notify(ctx context.Context, c Confirmation) error
}
