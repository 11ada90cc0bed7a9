package authority

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Store errors.
var (
	ErrCodeNotFound     = errors.New("referral code not found")
	ErrCodeTaken        = errors.New("referral code already exists")
	ErrCodeExhausted    = errors.New("referral code has no uses left")
	ErrSettingsNotFound = errors.New("referral settings not found")
)

// Rejection messages returned to terminals.
const (
	MsgValid          = "Valid code"
	MsgNotFound       = "Referral code not found"
	MsgDisabled       = "Referral program is disabled"
	MsgInactive       = "Referral code is not active"
	MsgExpired        = "Referral code has expired"
	MsgExhausted      = "Referral code has reached maximum uses"
	MsgBelowMinimum   = "Order total is below the minimum for referral discounts"
	MsgCodeRequired   = "Referral code is required"
	MsgNegativeTotal  = "Order total must not be negative"
	MsgCustomerNeeded = "Customer is required"
	MsgPhoneNeeded    = "Phone number is required"
)

// Code is an issued referral code.
type Code struct {
	ID           string
	Code         string
	CustomerID   string
	CustomerName string
	Phone        string
	ContextID    string

	MaxUses            int
	TimesUsed          int
	TotalDiscountGiven decimal.Decimal

	Active    bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Usable reports whether the code can be redeemed at now and, if not, why.
func (c *Code) Usable(now time.Time) (bool, string) {
	switch {
	case !c.Active:
		return false, MsgInactive
	case !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now):
		return false, MsgExpired
	case c.TimesUsed >= c.MaxUses:
		return false, MsgExhausted
	default:
		return true, MsgValid
	}
}

// Redemption records one accepted use of a code.
type Redemption struct {
	ID             string
	CodeID         string
	Code           string
	ContextID      string
	OrderTotal     decimal.Decimal
	DiscountAmount decimal.Decimal
	ReferrerReward decimal.Decimal
	CreatedAt      time.Time
}

// CodeStore persists referral codes and their redemptions.
type CodeStore interface {
	// CreateCode stores a new code. It returns ErrCodeTaken when the code
	// string is already in use.
	CreateCode(ctx context.Context, c *Code) error
	// FindCode returns the code or ErrCodeNotFound.
	FindCode(ctx context.Context, code string) (*Code, error)
	// RecordRedemption increments the usage of r.Code, adds the discount to
	// its total and stores r, atomically. It returns ErrCodeExhausted when the
	// code has no uses left.
	RecordRedemption(ctx context.Context, r *Redemption) error
	// ListCodes returns every stored code string.
	ListCodes(ctx context.Context) ([]string, error)
	// DeactivateExpired deactivates active codes that expired before now and
	// returns how many were changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// SettingsStore looks up program settings by session context.
type SettingsStore interface {
	// FindSettings returns the settings or ErrSettingsNotFound.
	FindSettings(ctx context.Context, contextID string) (*Settings, error)
}

// RejectedError is a request the authority refuses for a business reason.
// Message is shown to the cashier verbatim.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "rejected: " + e.Message
}

func reject(msg string) error {
	return &RejectedError{Message: msg}
}
