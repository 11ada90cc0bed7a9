package referral

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-referral/internal/domain/order"
)

// Validation errors. They are caller-correctable and never reach the
// authority.
var (
	ErrNoActiveOrder      = errors.New("no active order")
	ErrNoCustomerSelected = errors.New("no customer selected")
	ErrMissingPhoneNumber = errors.New("customer has no phone number")
	ErrNoSessionContext   = errors.New("no session context")
	ErrEmptyCode          = errors.New("referral code is empty")
	ErrAlreadyRedeemed    = errors.New("referral code already redeemed on this order")
)

var (
	// ErrRejected marks a business rejection returned by the authority.
	ErrRejected = errors.New("rejected by authority")
	// ErrNotApplied is returned when no order line could take the discount.
	ErrNotApplied = errors.New("discount not applied to any line")
)

// Operation names used in AuthorityError.
const (
	OpGenerate = "generate"
	OpRedeem   = "redeem"
)

// AuthorityError reports a failed or rejected call to the remote authority.
// Message is the authority's own text when it provided one.
type AuthorityError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthorityError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthorityError) Unwrap() error {
	return e.Err
}

// ManualAdjustmentError is returned when the authority accepted a redemption
// but the order could not be adjusted to match. The redemption is still
// recorded on the order.
type ManualAdjustmentError struct {
	Code   string
	Amount decimal.Decimal
	Err    error
}

func (e *ManualAdjustmentError) Error() string {
	return fmt.Sprintf("referral %s: discount %s needs manual adjustment: %v",
		e.Code, e.Amount.StringFixed(2), e.Err)
}

func (e *ManualAdjustmentError) Unwrap() error {
	return e.Err
}

// authorityMessager is implemented by transport errors that carry a message
// from the authority.
type authorityMessager interface {
	AuthorityMessage() string
}

func authorityMessage(err error) string {
	var m authorityMessager
	if errors.As(err, &m) {
		return m.AuthorityMessage()
	}
	return ""
}

// UserMessage converts an error returned by the coordinators into the text
// shown to the cashier.
func UserMessage(err error) string {
	var (
		authErr   *AuthorityError
		manualErr *ManualAdjustmentError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoActiveOrder), errors.Is(err, order.ErrOrderClosed):
		return "Please start an order first."
	case errors.Is(err, ErrNoCustomerSelected):
		return "Please select a customer first."
	case errors.Is(err, ErrMissingPhoneNumber):
		return "Customer must have a phone number to generate referral code."
	case errors.Is(err, ErrNoSessionContext):
		return "No POS session is open."
	case errors.Is(err, ErrEmptyCode):
		return "Please enter a referral code."
	case errors.Is(err, ErrAlreadyRedeemed):
		return "A referral code was already redeemed on this order."
	case errors.As(err, &manualErr):
		return fmt.Sprintf("Referral discount of %s was approved but could not be applied automatically. Please adjust the order manually.",
			manualErr.Amount.StringFixed(2))
	case errors.As(err, &authErr):
		if authErr.Message != "" {
			return authErr.Message
		}
		if authErr.Op == OpGenerate {
			return "Failed to generate referral code. Please try again."
		}
		return "Failed to apply referral code."
	default:
		return "Referral not applied."
	}
}
