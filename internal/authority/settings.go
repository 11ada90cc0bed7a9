package authority

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Settings are the referral program parameters of one session context.
type Settings struct {
	ContextID string
	Enabled   bool
	// ReferrerPercentage is the reward of the code owner, relative to the
	// order total of the referred customer.
	ReferrerPercentage decimal.Decimal
	// ReferredPercentage is the discount granted to the referred customer.
	ReferredPercentage decimal.Decimal
	CodePrefix         string
	MinOrderAmount     decimal.Decimal
	MaxUsesPerCode     int
	CodeValidityDays   int
}

// DefaultSettings returns the program defaults used for contexts without
// stored settings.
func DefaultSettings() Settings {
	return Settings{
		Enabled:            true,
		ReferrerPercentage: decimal.NewFromInt(15),
		ReferredPercentage: decimal.NewFromInt(10),
		CodePrefix:         "REF",
		MinOrderAmount:     decimal.Zero,
		MaxUsesPerCode:     1,
		CodeValidityDays:   365,
	}
}

// Validate checks that s describes a usable program.
func (s Settings) Validate() error {
	for name, p := range map[string]decimal.Decimal{
		"referrer percentage": s.ReferrerPercentage,
		"referred percentage": s.ReferredPercentage,
	} {
		if p.IsNegative() || p.GreaterThan(hundred) {
			return errors.Errorf("%s %s out of range [0, 100]", name, p)
		}
	}
	if s.MinOrderAmount.IsNegative() {
		return errors.Errorf("negative minimum order amount %s", s.MinOrderAmount)
	}
	if s.MaxUsesPerCode < 1 {
		return errors.New("maximum uses must be at least 1")
	}
	if s.CodeValidityDays < 1 {
		return errors.New("code validity must be at least one day")
	}
	if strings.Trim(s.CodePrefix, "- ") == "" {
		return errors.New("code prefix is required")
	}
	return nil
}

// Discount returns the discount granted for an order total.
func (s Settings) Discount(total decimal.Decimal) decimal.Decimal {
	return total.Mul(s.ReferredPercentage).Div(hundred).Round(2)
}

// ReferrerReward returns the reward credited to the code owner for a granted
// discount. It is zero when the program grants no discount.
func (s Settings) ReferrerReward(discount decimal.Decimal) decimal.Decimal {
	if !s.ReferredPercentage.IsPositive() {
		return decimal.Zero
	}
	return discount.Mul(s.ReferrerPercentage).Div(s.ReferredPercentage).Round(2)
}

// ExpiresAt returns the expiry of a code created at createdAt.
func (s Settings) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, s.CodeValidityDays)
}
