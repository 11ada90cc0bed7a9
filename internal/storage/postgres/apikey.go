package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/pos-referral/internal/domain/auth"
)

const (
	getAPIKeySQL = `SELECT id, key_hash, name, scopes FROM api_keys
		WHERE key_hash = $1 AND active`

	saveAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash,
			name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE`
)

var _ auth.Repository = (*APIKeyStore)(nil)

// APIKeyStore provides API key lookups backed by PostgreSQL.
type APIKeyStore struct {
	db DB
}

// NewAPIKeyStore returns an APIKeyStore using db.
func NewAPIKeyStore(db DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// FindByHash looks up an active API key by its HMAC hash.
func (s *APIKeyStore) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	var k auth.APIKey
	err := s.db.QueryRow(ctx, getAPIKeySQL, hash).Scan(&k.ID, &k.KeyHash, &k.Name, &k.Scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "find api key")
	}
	return &k, nil
}

// SaveKey inserts or replaces the key with k.ID and reactivates it.
func (s *APIKeyStore) SaveKey(ctx context.Context, k *auth.APIKey) error {
	if _, err := s.db.Exec(ctx, saveAPIKeySQL, k.ID, k.KeyHash, k.Name, k.Scopes); err != nil {
		return errors.Wrapf(err, "save api key %q", k.ID)
	}
	return nil
}
