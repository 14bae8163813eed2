// Package redis caches the rendered product catalog in Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/merch-checkout/internal/domain/catalog"
)

var _ catalog.Cache = (*CatalogCache)(nil)

// CatalogCache stores the catalog as a single JSON value.
type CatalogCache struct {
	client *redis.Client
	key    string
}

// NewClient opens a client for addr without connecting.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewCatalogCache returns a cache whose keys are namespaced by service.
func NewCatalogCache(client *redis.Client, service string) *CatalogCache {
	return &CatalogCache{
		client: client,
		key:    fmt.Sprintf("%s:catalog:products", service),
	}
}

// Get returns the cached catalog or catalog.ErrCacheMiss.
func (c *CatalogCache) Get(ctx context.Context) ([]catalog.Product, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, catalog.ErrCacheMiss
		}
		return nil, errors.Wrap(err, "redis get")
	}

	var products []catalog.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "decode cached catalog")
	}
	return products, nil
}

// Set stores products for ttl.
func (c *CatalogCache) Set(ctx context.Context, products []catalog.Product, ttl time.Duration) error {
	data, err := json.Marshal(products)
	if err != nil {
		return errors.Wrap(err, "encode catalog")
	}
	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Ping checks the Redis connection.
func (c *CatalogCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}
