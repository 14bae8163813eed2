package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss is returned by a Cache that holds no catalog.
	ErrCacheMiss = errors.New("catalog cache miss")
	// ErrProductNotFound is returned by a DetailSource for unknown products.
	ErrProductNotFound = errors.New("product not found")
)

// Product is a purchasable catalog item priced in reference cents.
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"priceCents"`
	ProductRef  string `json:"productRef"`
	VariantRef  string `json:"variantRef"`
	Image       string `json:"image"`
}

// Source provides the current catalog.
type Source interface {
	Products(ctx context.Context) ([]Product, error)
}

// Detail is a single product together with its print profile. Shipping is
// the provider's raw JSON shipping profile, nil when it is unknown.
type Detail struct {
	Product         Product
	BlueprintID     int64
	PrintProviderID int64
	Shipping        []byte
}

// DetailSource resolves a single product by id.
type DetailSource interface {
	Product(ctx context.Context, id string) (Detail, error)
}

// Cache stores a rendered catalog for a limited time.
type Cache interface {
	Get(ctx context.Context) ([]Product, error)
	Set(ctx context.Context, products []Product, ttl time.Duration) error
}

// Service resolves the catalog from the primary source, the cache and
// the static fallback, in that order of preference.
type Service struct {
	primary  Source
	details  DetailSource
	fallback StaticSource
	cache    Cache
	ttl      time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithPrimary sets the remote catalog source.
func WithPrimary(src Source) Option {
	return func(s *Service) { s.primary = src }
}

// WithDetails sets the remote source of single product details.
func WithDetails(src DetailSource) Option {
	return func(s *Service) { s.details = src }
}

// WithCache enables caching of primary source results for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// NewService returns a Service that falls back to the static catalog.
func NewService(opts ...Option) *Service {
	s := &Service{fallback: StaticSource{}, ttl: 5 * time.Minute}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Products returns the catalog. Without a primary source the static
// catalog is served. Cache failures are logged and otherwise ignored.
func (s *Service) Products(ctx context.Context) ([]Product, error) {
	if s.primary == nil {
		return s.fallback.Products(ctx)
	}
	lg := zctx.From(ctx)

	if s.cache != nil {
		products, err := s.cache.Get(ctx)
		switch {
		case err == nil:
			return products, nil
		case !errors.Is(err, ErrCacheMiss):
			lg.Warn("Catalog cache read failed", zap.Error(err))
		}
	}

	products, err := s.primary.Products(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch catalog")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, products, s.ttl); err != nil {
			lg.Warn("Catalog cache write failed", zap.Error(err))
		}
	}
	return products, nil
}

// Product returns the details of one product. Without a detail source the
// static catalog answers, with a placeholder for ids it does not know.
func (s *Service) Product(ctx context.Context, id string) (Detail, error) {
	if s.details == nil {
		return s.fallback.Product(ctx, id)
	}
	d, err := s.details.Product(ctx, id)
	if err != nil {
		return Detail{}, errors.Wrapf(err, "fetch product %s", id)
	}
	return d, nil
}
