package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/merch-checkout/internal/domain/auth"
	"github.com/xenking/merch-checkout/internal/domain/order"
	"github.com/xenking/merch-checkout/pkg/httpmiddleware"
)

// APIKeyHeader is accepted as an alternative to a bearer token.
const APIKeyHeader = "X-API-Key"

var errUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates admin requests via HMAC-SHA256 hashed API
// keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate resolves token to its key. The stored hash is compared in
// constant time with the computed one.
func (s *SecurityHandler) Authenticate(ctx context.Context, token string) (*auth.APIKeyInfo, error) {
	if token == "" {
		return nil, errUnauthorized
	}
	hexHash := auth.HashKey(s.pepper, token)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return nil, errUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}

// Require returns middleware rejecting requests without a valid key that
// carries scope.
func (s *SecurityHandler) Require(scope string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := s.Authenticate(ctx, tokenFromRequest(r))
			switch {
			case errors.Is(err, errUnauthorized):
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				writeError(w, http.StatusUnauthorized, order.KindUnauthorized, "missing or invalid credentials")
				return
			case err != nil:
				zctx.From(ctx).Error("Authentication failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, order.KindStorage, "authentication unavailable")
				return
			}
			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, order.KindUnauthorized, "insufficient scope")
				return
			}

			ctx = zctx.With(ctx, zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}
