package order

import "github.com/shopspring/decimal"

// ReferralState records referral activity on a single order. Empty strings
// and a nil AppliedDiscountAmount mean the value is absent.
type ReferralState struct {
	GeneratedCode          string
	GeneratedReferralID    string
	GeneratingCustomerName string

	UsedCode              string
	AppliedDiscountAmount *decimal.Decimal
	// AppliedDiscountPercentage is the percentage added to eligible lines by
	// the active redemption.
	AppliedDiscountPercentage decimal.Decimal
	// AppliedLineShifts is the actual change of each line discount by the
	// active redemption. It is what a replacement has to take back.
	AppliedLineShifts []decimal.Decimal
	// NeedsManualAdjustment is set when the authority approved the discount
	// but the lines could not be brought to the expected total.
	NeedsManualAdjustment bool
}

// HasGenerated reports whether a code was generated on this order.
func (s *ReferralState) HasGenerated() bool {
	return s != nil && s.GeneratedCode != ""
}

// HasRedemption reports whether a code was redeemed on this order.
func (s *ReferralState) HasRedemption() bool {
	return s != nil && s.UsedCode != ""
}

func (s *ReferralState) clone() ReferralState {
	c := *s
	if s.AppliedDiscountAmount != nil {
		amount := *s.AppliedDiscountAmount
		c.AppliedDiscountAmount = &amount
	}
	c.AppliedLineShifts = append([]decimal.Decimal(nil), s.AppliedLineShifts...)
	return c
}
