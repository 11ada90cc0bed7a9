// Package auth holds the API key model used to authenticate POS terminals
// against the referral authority.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// Scopes granted to terminal keys.
const (
	ScopeIssue    = "referral:issue"
	ScopeRedeem   = "referral:redeem"
	ScopeReadCode = "referral:read"
)

// APIKey is a stored key. The plaintext never leaves the client; only its
// peppered HMAC is persisted.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Allows reports whether the key carries scope.
func (k *APIKey) Allows(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository looks up and stores API keys by hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	SaveKey(ctx context.Context, key *APIKey) error
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
