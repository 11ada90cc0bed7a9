package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/pos-referral/internal/authority"
)

const (
	getSettingsSQL = `SELECT context_id, enabled, referrer_percentage, referred_percentage,
		code_prefix, min_order_amount, max_uses_per_code, code_validity_days
		FROM referral_settings WHERE context_id = $1`

	saveSettingsSQL = `INSERT INTO referral_settings (context_id, enabled, referrer_percentage,
		referred_percentage, code_prefix, min_order_amount, max_uses_per_code, code_validity_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (context_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			referrer_percentage = EXCLUDED.referrer_percentage,
			referred_percentage = EXCLUDED.referred_percentage,
			code_prefix = EXCLUDED.code_prefix,
			min_order_amount = EXCLUDED.min_order_amount,
			max_uses_per_code = EXCLUDED.max_uses_per_code,
			code_validity_days = EXCLUDED.code_validity_days,
			updated_at = NOW()`
)

var _ authority.SettingsStore = (*SettingsStore)(nil)

// SettingsStore implements authority.SettingsStore.
type SettingsStore struct {
	db DB
}

// NewSettingsStore returns a SettingsStore using db.
func NewSettingsStore(db DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// FindSettings returns the settings stored for contextID.
func (s *SettingsStore) FindSettings(ctx context.Context, contextID string) (*authority.Settings, error) {
	var (
		st       authority.Settings
		maxUses  int32
		validity int32
	)
	err := s.db.QueryRow(ctx, getSettingsSQL, contextID).Scan(
		&st.ContextID, &st.Enabled, &st.ReferrerPercentage, &st.ReferredPercentage,
		&st.CodePrefix, &st.MinOrderAmount, &maxUses, &validity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authority.ErrSettingsNotFound
		}
		return nil, errors.Wrapf(err, "find settings %q", contextID)
	}
	st.MaxUsesPerCode = int(maxUses)
	st.CodeValidityDays = int(validity)
	return &st, nil
}

// SaveSettings validates and upserts st.
func (s *SettingsStore) SaveSettings(ctx context.Context, st authority.Settings) error {
	if err := st.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	if _, err := s.db.Exec(ctx, saveSettingsSQL,
		st.ContextID, st.Enabled, st.ReferrerPercentage, st.ReferredPercentage,
		st.CodePrefix, st.MinOrderAmount, st.MaxUsesPerCode, st.CodeValidityDays,
	); err != nil {
		return errors.Wrapf(err, "save settings %q", st.ContextID)
	}
	return nil
}
