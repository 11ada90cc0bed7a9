package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-referral/internal/api"
	"github.com/xenking/pos-referral/internal/domain/auth"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

type keyCtx struct{}

// KeyFromContext returns the API key authenticated for the request.
func KeyFromContext(ctx context.Context) (*auth.APIKey, bool) {
	k, ok := ctx.Value(keyCtx{}).(*auth.APIKey)
	return k, ok
}

// SecurityHandler authenticates requests by the peppered HMAC-SHA256 of the
// api_key header.
type SecurityHandler struct {
	keys   auth.Repository
	pepper []byte
}

// NewSecurityHandler creates a SecurityHandler.
func NewSecurityHandler(keys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{keys: keys, pepper: pepper}
}

// Authenticate resolves the key of r and checks it grants scope.
func (s *SecurityHandler) Authenticate(r *http.Request, scope string) (context.Context, error) {
	ctx := r.Context()
	raw := r.Header.Get(api.HeaderAPIKey)
	if raw == "" {
		return ctx, errUnauthorized
	}

	hash := auth.HashKey(s.pepper, raw)
	key, err := s.keys.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return ctx, errUnauthorized
		}
		return ctx, errors.Wrap(err, "find api key")
	}

	// The repository matched on the hash; compare again in constant time in
	// case it returned a different row.
	want, err := hex.DecodeString(hash)
	if err != nil {
		return ctx, errUnauthorized
	}
	got, err := hex.DecodeString(key.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return ctx, errUnauthorized
	}

	if !key.Allows(scope) {
		return ctx, errForbidden
	}
	return context.WithValue(ctx, keyCtx{}, key), nil
}
