package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeOrdersRead grants access to the admin order endpoints.
const ScopeOrdersRead = "orders:read"

// ErrKeyNotFound is returned when no API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// StaticRepository holds keys configured at startup.
type StaticRepository struct {
	keys map[string]APIKeyInfo
}

// NewStaticRepository returns a repository with the given keys, indexed
// by KeyHash.
func NewStaticRepository(keys ...APIKeyInfo) *StaticRepository {
	r := &StaticRepository{keys: make(map[string]APIKeyInfo, len(keys))}
	for _, k := range keys {
		r.keys[k.KeyHash] = k
	}
	return r
}

// FindByHash implements Repository.
func (r *StaticRepository) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	k, ok := r.keys[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	k.Scopes = slices.Clone(k.Scopes)
	return &k, nil
}

// Chain queries repositories in order and returns the first match.
type Chain []Repository

// FindByHash implements Repository.
func (c Chain) FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error) {
	for _, r := range c {
		info, err := r.FindByHash(ctx, hash)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
	}
	return nil, ErrKeyNotFound
}
