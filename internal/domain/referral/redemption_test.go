package referral

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-referral/internal/domain/order"
)

func newRedeemer(t *testing.T, policy Policy, v Validator, n Notifier) *Redeemer {
	t.Helper()
	r, err := NewRedeemer(RedeemerConfig{Policy: policy}, v, n)
	require.NoError(t, err)
	return r
}

func orderWithLines(t *testing.T, lines ...order.LineItem) *order.Order {
	t.Helper()
	o := order.New()
	for _, l := range lines {
		require.NoError(t, o.AddLine(l))
	}
	return o
}

func lineOf(price string) order.LineItem {
	return order.LineItem{ProductID: "p-" + price, Name: "Item", UnitPrice: d(price), Quantity: d("1")}
}

func approved(amount string) *mockValidator {
	return &mockValidator{result: &ValidationResult{Success: true, DiscountAmount: d(amount), Message: "Valid code"}}
}

func TestRedeem_AppliesDiscount(t *testing.T) {
	v := approved("20.00")
	n := &recordingNotifier{}
	r := newRedeemer(t, PolicyReject, v, n)
	o := orderWithLines(t, lineOf("60.00"), lineOf("40.00"))

	got, err := r.Redeem(context.Background(), o, " abc123 ", "pos-1")
	require.NoError(t, err)

	assert.Equal(t, "ABC123", v.lastCode)
	assert.True(t, d("100.00").Equal(v.lastTotal))
	assert.Equal(t, "pos-1", v.lastContext)

	assert.Equal(t, StatusApplied, got.Status)
	assert.Equal(t, "ABC123", got.Code)
	assert.True(t, d("20.00").Equal(got.DiscountAmount))
	assert.True(t, d("80.00").Equal(o.TotalWithTax()), "got %s", o.TotalWithTax())

	s := o.Referral()
	require.NotNil(t, s)
	assert.Equal(t, "ABC123", s.UsedCode)
	require.NotNil(t, s.AppliedDiscountAmount)
	assert.True(t, d("20.00").Equal(*s.AppliedDiscountAmount))
	assert.True(t, d("20").Equal(s.AppliedDiscountPercentage))
	assert.False(t, s.NeedsManualAdjustment)

	assert.Equal(t, notice{message: "Referral discount: 20.00 applied successfully.", severity: SeveritySuccess}, n.last())
}

func TestRedeem_Rejected(t *testing.T) {
	v := &mockValidator{result: &ValidationResult{Success: false, Message: "Code expired"}}
	n := &recordingNotifier{}
	r := newRedeemer(t, PolicyReject, v, n)
	o := orderWithLines(t, lineOf("100.00"))

	got, err := r.Redeem(context.Background(), o, "OLD1", "pos-1")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Code expired")
	require.ErrorIs(t, err, ErrRejected)

	assert.True(t, d("100.00").Equal(o.TotalWithTax()))
	assert.Nil(t, o.Referral())
	assert.Equal(t, notice{message: "Code expired", severity: SeverityError}, n.last())
}

func TestRedeem_EmptyCode(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		v := approved("1.00")
		n := &recordingNotifier{}
		r := newRedeemer(t, PolicyReject, v, n)
		o := orderWithLines(t, lineOf("10.00"))

		_, err := r.Redeem(context.Background(), o, raw, "pos-1")
		require.ErrorIs(t, err, ErrEmptyCode)
		assert.Zero(t, v.calls)
		assert.Equal(t, "Please enter a referral code.", n.last().message)
	}
}

func TestRedeem_NoActiveOrder(t *testing.T) {
	v := approved("1.00")
	r := newRedeemer(t, PolicyReject, v, nil)

	_, err := r.Redeem(context.Background(), nil, "ABC", "pos-1")
	require.ErrorIs(t, err, ErrNoActiveOrder)

	closed := orderWithLines(t, lineOf("10.00"))
	closed.Discard()
	_, err = r.Redeem(context.Background(), closed, "ABC", "pos-1")
	require.ErrorIs(t, err, ErrNoActiveOrder)

	assert.Zero(t, v.calls)
}

func TestRedeem_TransportError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "with authority message", err: &transportError{msg: "Referral code not found"}, wantMsg: "Referral code not found"},
		{name: "without message", err: errors.New("timeout"), wantMsg: "Failed to apply referral code."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			r := newRedeemer(t, PolicyReject, &mockValidator{err: tt.err}, n)
			o := orderWithLines(t, lineOf("10.00"))

			_, err := r.Redeem(context.Background(), o, "ABC", "pos-1")

			var authErr *AuthorityError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, OpRedeem, authErr.Op)
			assert.Nil(t, o.Referral())
			assert.Equal(t, notice{message: tt.wantMsg, severity: SeverityError}, n.last())
		})
	}
}

func TestRedeem_NegativeAmountFromAuthority(t *testing.T) {
	r := newRedeemer(t, PolicyReject, approved("-5.00"), nil)
	o := orderWithLines(t, lineOf("10.00"))

	_, err := r.Redeem(context.Background(), o, "ABC", "pos-1")
	require.ErrorIs(t, err, order.ErrNegativeDiscount)
	assert.True(t, d("10.00").Equal(o.TotalWithTax()))
	assert.Nil(t, o.Referral())
}

func TestRedeem_NeedsManualAdjustment(t *testing.T) {
	discounted := lineOf("100.00")
	discounted.Discount = d("50")

	reward := order.LineItem{
		ProductID:       "reward",
		UnitPrice:       d("5.00"),
		Quantity:        d("1"),
		IsProgramReward: true,
	}

	tests := []struct {
		name      string
		lines     []order.LineItem
		wantCause error
	}{
		{name: "off tolerance", lines: []order.LineItem{discounted}},
		{name: "no eligible lines", lines: []order.LineItem{reward}, wantCause: ErrNotApplied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			r := newRedeemer(t, PolicyReject, approved("2.00"), n)
			o := orderWithLines(t, tt.lines...)

			got, err := r.Redeem(context.Background(), o, "abc123", "pos-1")

			var manualErr *ManualAdjustmentError
			require.ErrorAs(t, err, &manualErr)
			if tt.wantCause != nil {
				require.ErrorIs(t, err, tt.wantCause)
			} else {
				var cerr *order.ConsistencyError
				require.ErrorAs(t, err, &cerr)
			}

			require.NotNil(t, got)
			assert.Equal(t, StatusNeedsManualAdjustment, got.Status)

			s := o.Referral()
			require.NotNil(t, s)
			assert.Equal(t, "ABC123", s.UsedCode)
			require.NotNil(t, s.AppliedDiscountAmount)
			assert.True(t, d("2.00").Equal(*s.AppliedDiscountAmount))
			assert.True(t, s.NeedsManualAdjustment)
			assert.Equal(t, SeverityWarning, n.last().severity)
			assert.Contains(t, n.last().message, "2.00")
		})
	}
}

func TestRedeem_SecondRedemptionRejected(t *testing.T) {
	v := approved("20.00")
	n := &recordingNotifier{}
	r := newRedeemer(t, PolicyReject, v, n)
	o := orderWithLines(t, lineOf("100.00"))

	_, err := r.Redeem(context.Background(), o, "ABC123", "pos-1")
	require.NoError(t, err)

	_, err = r.Redeem(context.Background(), o, "ABC123", "pos-1")
	require.ErrorIs(t, err, ErrAlreadyRedeemed)

	assert.Equal(t, 1, v.calls)
	assert.True(t, d("80.00").Equal(o.TotalWithTax()))
	s := o.Referral()
	assert.True(t, d("20.00").Equal(*s.AppliedDiscountAmount))
	assert.Equal(t, "A referral code was already redeemed on this order.", n.last().message)
}

func TestRedeem_SecondRedemptionReplaces(t *testing.T) {
	v := approved("20.00")
	r := newRedeemer(t, PolicyReplace, v, nil)
	o := orderWithLines(t, lineOf("75.00"), lineOf("25.00"))

	_, err := r.Redeem(context.Background(), o, "ABC123", "pos-1")
	require.NoError(t, err)
	require.True(t, d("80.00").Equal(o.TotalWithTax()))

	got, err := r.Redeem(context.Background(), o, "xyz789", "pos-1")
	require.NoError(t, err)

	// The authority prices the replacement against the undiscounted total
	// and the discount is not stacked.
	assert.Equal(t, 2, v.calls)
	assert.True(t, d("100.00").Equal(v.lastTotal), "got %s", v.lastTotal)
	assert.True(t, d("80.00").Equal(o.TotalWithTax()), "got %s", o.TotalWithTax())
	assert.Equal(t, "ABC123", got.Replaced)

	s := o.Referral()
	assert.Equal(t, "XYZ789", s.UsedCode)
	assert.True(t, d("20.00").Equal(*s.AppliedDiscountAmount))
	for _, l := range o.Lines() {
		assert.True(t, d("20").Equal(l.Discount))
	}
}

func TestRedeem_ReplaceRestoresCashierDiscount(t *testing.T) {
	v := approved("21.00")
	r := newRedeemer(t, PolicyReplace, v, nil)
	cashier := lineOf("100.00")
	cashier.Discount = d("95")
	o := orderWithLines(t, cashier, lineOf("100.00"))
	require.True(t, d("105.00").Equal(o.TotalWithTax()))

	// The first line is clamped at 100%, so the lines overshoot.
	_, err := r.Redeem(context.Background(), o, "FIRST", "pos-1")
	var manual *ManualAdjustmentError
	require.ErrorAs(t, err, &manual)

	v.result = &ValidationResult{Success: true, DiscountAmount: d("0.00")}
	_, err = r.Redeem(context.Background(), o, "SECOND", "pos-1")
	require.NoError(t, err)

	assert.True(t, d("105.00").Equal(v.lastTotal), "got %s", v.lastTotal)
	lines := o.Lines()
	assert.True(t, d("95").Equal(lines[0].Discount), "got %s", lines[0].Discount)
	assert.True(t, lines[1].Discount.IsZero(), "got %s", lines[1].Discount)
	assert.True(t, d("105.00").Equal(o.TotalWithTax()), "got %s", o.TotalWithTax())
	assert.Equal(t, "SECOND", o.Referral().UsedCode)
}

func TestRedeem_ReplaceRejectedKeepsPrevious(t *testing.T) {
	v := approved("10.00")
	r := newRedeemer(t, PolicyReplace, v, nil)
	o := orderWithLines(t, lineOf("50.00"))

	_, err := r.Redeem(context.Background(), o, "FIRST", "pos-1")
	require.NoError(t, err)

	v.result = &ValidationResult{Success: false, Message: "Referral code has reached maximum uses"}
	_, err = r.Redeem(context.Background(), o, "SECOND", "pos-1")
	require.ErrorIs(t, err, ErrRejected)

	assert.True(t, d("40.00").Equal(o.TotalWithTax()))
	assert.Equal(t, "FIRST", o.Referral().UsedCode)
}

func TestRedeem_KeepsGeneratedData(t *testing.T) {
	r := newRedeemer(t, PolicyReject, approved("1.00"), nil)
	o := orderWithLines(t, lineOf("10.00"))
	require.NoError(t, o.UpdateReferral(func(s *order.ReferralState) {
		s.GeneratedCode = "REF-ANN-0001"
	}))

	_, err := r.Redeem(context.Background(), o, "OTHER", "pos-1")
	require.NoError(t, err)

	s := o.Referral()
	assert.Equal(t, "REF-ANN-0001", s.GeneratedCode)
	assert.Equal(t, "OTHER", s.UsedCode)
}
