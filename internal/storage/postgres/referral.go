package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-referral/internal/authority"
)

const (
	insertCodeSQL = `INSERT INTO referral_codes (id, code, customer_id, customer_name, phone, context_id,
		max_uses, times_used, total_discount_given, active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	importCodeSQL = insertCodeSQL + ` ON CONFLICT (code) DO NOTHING`

	getCodeSQL = `SELECT id, code, customer_id, customer_name, phone, context_id,
		max_uses, times_used, total_discount_given, active, expires_at, created_at
		FROM referral_codes WHERE code = $1`

	useCodeSQL = `UPDATE referral_codes
		SET times_used = times_used + 1, total_discount_given = total_discount_given + $2
		WHERE id = $1 AND active AND times_used < max_uses`

	insertRedemptionSQL = `INSERT INTO referral_redemptions (id, code_id, context_id,
		order_total, discount_amount, referrer_reward, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listCodesSQL = `SELECT code FROM referral_codes`

	deactivateExpiredSQL = `UPDATE referral_codes SET active = FALSE
		WHERE active AND expires_at < $1`
)

var _ authority.CodeStore = (*ReferralStore)(nil)

// ReferralStore implements authority.CodeStore.
type ReferralStore struct {
	db DB
}

// NewReferralStore returns a ReferralStore using db.
func NewReferralStore(db DB) *ReferralStore {
	return &ReferralStore{db: db}
}

func codeArgs(c *authority.Code) []any {
	return []any{
		c.ID, c.Code, c.CustomerID, c.CustomerName, c.Phone, c.ContextID,
		c.MaxUses, c.TimesUsed, c.TotalDiscountGiven, c.Active, c.ExpiresAt, c.CreatedAt,
	}
}

// CreateCode inserts c.
func (s *ReferralStore) CreateCode(ctx context.Context, c *authority.Code) error {
	if _, err := s.db.Exec(ctx, insertCodeSQL, codeArgs(c)...); err != nil {
		if isUniqueViolation(err) {
			return authority.ErrCodeTaken
		}
		return errors.Wrapf(err, "insert code %q", c.Code)
	}
	return nil
}

// ImportCode inserts c unless the code already exists. It reports whether a
// row was written.
func (s *ReferralStore) ImportCode(ctx context.Context, c *authority.Code) (bool, error) {
	tag, err := s.db.Exec(ctx, importCodeSQL, codeArgs(c)...)
	if err != nil {
		return false, errors.Wrapf(err, "import code %q", c.Code)
	}
	return tag.RowsAffected() == 1, nil
}

var codeColumns = []string{
	"id", "code", "customer_id", "customer_name", "phone", "context_id",
	"max_uses", "times_used", "total_discount_given", "active", "expires_at", "created_at",
}

// CopyCodes bulk-inserts codes with COPY. Any conflict fails the whole batch.
func (s *ReferralStore) CopyCodes(ctx context.Context, codes []*authority.Code) (int64, error) {
	n, err := s.db.CopyFrom(ctx, pgx.Identifier{"referral_codes"}, codeColumns,
		pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
			return codeArgs(codes[i]), nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, authority.ErrCodeTaken
		}
		return 0, errors.Wrap(err, "copy codes")
	}
	return n, nil
}

// FindCode looks up a code by its exact string.
func (s *ReferralStore) FindCode(ctx context.Context, code string) (*authority.Code, error) {
	rows, err := s.db.Query(ctx, getCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find code %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authority.ErrCodeNotFound
		}
		return nil, errors.Wrapf(err, "find code %q", code)
	}
	return &c, nil
}

// RecordRedemption bumps the usage of the code and stores r in one
// transaction. The usage update only matches while uses are left, so
// concurrent redemptions cannot exceed max_uses.
func (s *ReferralStore) RecordRedemption(ctx context.Context, r *authority.Redemption) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}

	tag, err := tx.Exec(ctx, useCodeSQL, r.CodeID, r.DiscountAmount)
	if err != nil {
		return rollback(ctx, tx, errors.Wrapf(err, "use code %q", r.Code))
	}
	if tag.RowsAffected() == 0 {
		return rollback(ctx, tx, authority.ErrCodeExhausted)
	}

	if _, err := tx.Exec(ctx, insertRedemptionSQL,
		r.ID, r.CodeID, r.ContextID, r.OrderTotal, r.DiscountAmount, r.ReferrerReward, r.CreatedAt,
	); err != nil {
		return rollback(ctx, tx, errors.Wrapf(err, "insert redemption for %q", r.Code))
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// ListCodes returns all code strings.
func (s *ReferralStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, listCodesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list codes")
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "list codes")
	}
	return codes, nil
}

// DeactivateExpired switches off active codes that expired before now.
func (s *ReferralStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deactivateExpiredSQL, now)
	if err != nil {
		return 0, errors.Wrap(err, "deactivate expired codes")
	}
	return tag.RowsAffected(), nil
}

func scanCode(row pgx.CollectableRow) (authority.Code, error) {
	var (
		c        authority.Code
		maxUses  int32
		used     int32
		discount decimal.Decimal
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.CustomerID, &c.CustomerName, &c.Phone, &c.ContextID,
		&maxUses, &used, &discount, &c.Active, &c.ExpiresAt, &c.CreatedAt,
	)
	c.MaxUses = int(maxUses)
	c.TimesUsed = int(used)
	c.TotalDiscountGiven = discount
	return c, err
}
