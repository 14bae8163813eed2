package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// State is a step of the checkout state machine.
type State string

// Checkout states. Done and Failed are terminal.
const (
	StateValidating        State = "validating"
	StatePricing           State = "pricing"
	StatePlacingExternally State = "placing_externally"
	StatePersisting        State = "persisting"
	StateNotifying         State = "notifying"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Config holds the static, read-only inputs of the Service.
type Config struct {
	Shipping ShippingTable
	Rates    RateTable
	// SafeMode lets real orders through without the confirmReal flag.
	SafeMode        bool
	ExternalTimeout time.Duration
	StoreTimeout    time.Duration
	NotifyTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.ExternalTimeout <= 0 {
		c.ExternalTimeout = 15 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 30 * time.Second
	}
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithFulfillment enables external order placement.
func WithFulfillment(f Fulfillment) Option {
	return func(s *Service) { s.fulfillment = f }
}

// WithNotifier enables order confirmation messages.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMeterProvider sets the meter provider used for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// Result is the outcome of a successful checkout.
type Result struct {
	Order             *Order
	DisplayTotalCents int64
}

// Service runs the checkout state machine and serves order lookups.
type Service struct {
	cfg         Config
	orders      Repository
	fulfillment Fulfillment
	notifier    Notifier

	meterProvider metric.MeterProvider
	metrics       serviceMetrics

	newID func() (string, error)
	now   func() time.Time

	notifications sync.WaitGroup
}

type serviceMetrics struct {
	checkouts      metric.Int64Counter
	failures       metric.Int64Counter
	totals         metric.Int64Histogram
	mismatches     metric.Int64Counter
	notifyFailures metric.Int64Counter
}

// NewService creates an order Service backed by orders.
func NewService(cfg Config, orders Repository, opts ...Option) (*Service, error) {
	cfg.setDefaults()
	s := &Service{
		cfg:           cfg,
		orders:        orders,
		meterProvider: otel.GetMeterProvider(),
		newID:         newOrderID,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	meter := s.meterProvider.Meter("github.com/xenking/merch-checkout/internal/domain/order")
	var err error
	if s.metrics.checkouts, err = meter.Int64Counter("orders.checkouts",
		metric.WithDescription("Completed checkouts by resulting order status"),
	); err != nil {
		return nil, errors.Wrap(err, "checkouts counter")
	}
	if s.metrics.failures, err = meter.Int64Counter("orders.checkout_failures",
		metric.WithDescription("Failed checkouts by error kind"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if s.metrics.totals, err = meter.Int64Histogram("orders.total_cents",
		metric.WithDescription("Order totals in reference currency cents"),
	); err != nil {
		return nil, errors.Wrap(err, "totals histogram")
	}
	if s.metrics.mismatches, err = meter.Int64Counter("orders.reconciliation_mismatches",
		metric.WithDescription("Provider-reported amounts differing from local totals"),
	); err != nil {
		return nil, errors.Wrap(err, "mismatches counter")
	}
	if s.metrics.notifyFailures, err = meter.Int64Counter("orders.notification_failures",
		metric.WithDescription("Order confirmations that could not be delivered"),
	); err != nil {
		return nil, errors.Wrap(err, "notification failures counter")
	}

	return s, nil
}

// FulfillmentEnabled reports whether orders are placed with a provider.
func (s *Service) FulfillmentEnabled() bool {
	return s.fulfillment != nil
}

// SafeMode reports whether real orders skip the confirmation flag.
func (s *Service) SafeMode() bool {
	return s.cfg.SafeMode
}

// Shipping returns the shipping table.
func (s *Service) Shipping() ShippingTable {
	return s.cfg.Shipping
}

// Rates returns the display rate table.
func (s *Service) Rates() RateTable {
	return s.cfg.Rates
}

// checkout tracks one request through the state machine.
type checkout struct {
	state State
	lg    *zap.Logger
}

func (c *checkout) advance(next State) {
	c.lg.Debug("Checkout transition", zap.String("from", string(c.state)), zap.String("to", string(next)))
	c.state = next
}

// Checkout validates and prices req, optionally places it with the
// fulfillment provider, persists it and schedules a confirmation.
//
// The request runs to completion even if ctx is cancelled by the caller.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	c := &checkout{
		state: StateValidating,
		lg:    zctx.From(ctx).With(zap.String("payload_hash", payloadHash(req))),
	}

	in, err := Validate(req, s.cfg.Rates)
	if err != nil {
		return nil, s.fail(ctx, c, err)
	}

	c.advance(StatePricing)
	quote, err := Price(in.LineItems, s.cfg.Shipping, in.ShippingMethod)
	if err != nil {
		return nil, s.fail(ctx, c, err)
	}

	id, err := s.newID()
	if err != nil {
		return nil, s.fail(ctx, c, newError(KindStorage, err, "generate order id"))
	}
	c.lg = zctx.From(ctx).With(zap.String("order_id", id))

	o := &Order{
		ID:              id,
		CreatedAt:       s.now().UTC(),
		LineItems:       in.LineItems,
		SubtotalCents:   quote.SubtotalCents,
		ShippingCents:   quote.ShippingCents,
		TotalCents:      quote.TotalCents,
		ShippingMethod:  in.ShippingMethod,
		DisplayCurrency: in.DisplayCurrency,
		Address:         in.Address,
	}

	if s.fulfillment != nil {
		if !s.cfg.SafeMode && !in.ConfirmReal {
			return nil, s.fail(ctx, c, InvalidPayload("real order confirmation missing: set confirmReal=true to place real orders"))
		}
		if err := s.reserveID(ctx, c, o); err != nil {
			return nil, s.fail(ctx, c, err)
		}
		c.advance(StatePlacingExternally)
		if err := s.placeExternally(ctx, c, o); err != nil {
			return nil, s.fail(ctx, c, err)
		}
	} else if err := o.Advance(StatusSimulated); err != nil {
		return nil, s.fail(ctx, c, err)
	}

	c.advance(StatePersisting)
	if err := s.persist(ctx, c, o); err != nil {
		return nil, s.fail(ctx, c, err)
	}

	display, err := ToDisplay(o.TotalCents, s.cfg.Rates, o.DisplayCurrency)
	if err != nil {
		// Validation guarantees a known currency; fall back to reference cents.
		c.lg.Warn("Display conversion failed", zap.Error(err))
		display = o.TotalCents
	}

	if s.notifier != nil {
		c.advance(StateNotifying)
		s.notify(ctx, c.lg, Confirmation{Order: o, To: o.Address.Email, DisplayTotalCents: display})
	}
	c.advance(StateDone)

	s.metrics.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(o.Status))))
	s.metrics.totals.Record(ctx, o.TotalCents, metric.WithAttributes(attribute.String("status", string(o.Status))))
	c.lg.Info("Order created",
		zap.String("status", string(o.Status)),
		zap.Int64("total_cents", o.TotalCents),
		zap.String("external_ref", o.ExternalOrderRef),
	)

	return &Result{Order: o, DisplayTotalCents: display}, nil
}

// placeExternally calls the fulfillment provider once. Retries belong to the
// provider client, never to this method.
func (s *Service) placeExternally(ctx context.Context, c *checkout, o *Order) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()

	p, err := s.fulfillment.Place(callCtx, o)
	if err != nil {
		if KindOf(err) == KindInvalidPayload {
			return err
		}
		return newError(KindExternalProvider, err, "fulfillment provider rejected order")
	}
	if p.ExternalRef == "" {
		return newError(KindExternalProvider, nil, "fulfillment provider returned no order reference")
	}
	if err := o.Advance(StatusPlaced); err != nil {
		return err
	}
	if err := o.AttachExternalRef(p.ExternalRef); err != nil {
		return err
	}

	// Local totals stay authoritative for the stored record.
	if p.ChargedCents != nil && *p.ChargedCents != o.TotalCents {
		s.metrics.mismatches.Add(ctx, 1)
		c.lg.Warn("Provider amount differs from local total",
			zap.Int64("local_total_cents", o.TotalCents),
			zap.Int64("provider_total_cents", *p.ChargedCents),
			zap.String("external_ref", p.ExternalRef),
		)
	}
	return nil
}

// persist stores o, regenerating the id once on collision.
func (s *Service) persist(ctx context.Context, c *checkout, o *Order) error {
	for attempt := 0; ; attempt++ {
		err := s.create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateOrderID) {
			return newError(KindStorage, err, "persist order")
		}
		if attempt > 0 {
			return newError(KindDuplicateOrderID, err, "order id collided twice")
		}

		sent := o.ID
		if err := s.regenerateID(ctx, c, o); err != nil {
			return err
		}
		if o.ExternalOrderRef != "" {
			c.lg.Error("Stored order id differs from the id sent to the fulfillment provider",
				zap.String("provider_order_id", sent),
				zap.String("external_ref", o.ExternalOrderRef),
			)
		}
	}
}

// reserveID makes sure o.ID is free before it is sent to the fulfillment
// provider, so the provider record and the stored order share one id.
func (s *Service) reserveID(ctx context.Context, c *checkout, o *Order) error {
	for attempt := 0; ; attempt++ {
		storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		_, err := s.orders.Get(storeCtx, o.ID)
		cancel()
		switch {
		case errors.Is(err, ErrNotFound):
			return nil
		case err != nil:
			return newError(KindStorage, err, "check order id")
		case attempt > 0:
			return newError(KindDuplicateOrderID, ErrDuplicateOrderID, "order id collided twice")
		}
		if err := s.regenerateID(ctx, c, o); err != nil {
			return err
		}
	}
}

func (s *Service) regenerateID(ctx context.Context, c *checkout, o *Order) error {
	prev := o.ID
	id, err := s.newID()
	if err != nil {
		return newError(KindStorage, err, "regenerate order id")
	}
	o.ID = id
	c.lg = zctx.From(ctx).With(zap.String("order_id", id))
	c.lg.Warn("Order id collision, retrying with a fresh id", zap.String("previous_id", prev))
	return nil
}

func (s *Service) create(ctx context.Context, o *Order) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.orders.Create(storeCtx, o)
}

// notify delivers the confirmation in the background. Failures are logged
// and never reach the caller.
func (s *Service) notify(ctx context.Context, lg *zap.Logger, c Confirmation) {
	snapshot := *c.Order
	c.Order = &snapshot

	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(notifyCtx, c); err != nil {
			s.metrics.notifyFailures.Add(notifyCtx, 1)
			lg.Warn("Order confirmation failed", zap.Error(err))
			return
		}
		lg.Debug("Order confirmation sent")
	}()
}

// Wait blocks until all pending confirmations have finished.
func (s *Service) Wait() {
	s.notifications.Wait()
}

// fail moves the checkout to the failed state, records and logs err.
func (s *Service) fail(ctx context.Context, c *checkout, err error) error {
	from := c.state
	c.advance(StateFailed)

	kind := KindOf(err)
	if kind == "" {
		kind = KindStorage
		err = newError(kind, err, "checkout failed")
	}
	s.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))

	lg := c.lg.With(zap.String("kind", string(kind)), zap.String("state", string(from)), zap.Error(err))
	switch kind {
	case KindInvalidPayload, KindUnknownShippingMethod:
		lg.Info("Checkout rejected")
	default:
		lg.Error("Checkout failed")
	}
	return err
}

// Get returns a stored order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, err, "order %s not found", id)
		}
		return nil, newError(KindStorage, err, "get order")
	}
	return o, nil
}

// List lazily yields order summaries.
func (s *Service) List(ctx context.Context) iter.Seq2[Summary, error] {
	return func(yield func(Summary, error) bool) {
		for sum, err := range s.orders.List(ctx) {
			if err != nil {
				yield(Summary{}, newError(KindStorage, err, "list orders"))
				return
			}
			if !yield(sum, nil) {
				return
			}
		}
	}
}

func newOrderID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// payloadHash identifies a request in logs before an order id exists.
func payloadHash(req CheckoutRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
