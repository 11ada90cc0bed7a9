package terminal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-referral/internal/domain/order"
	"github.com/xenking/pos-referral/internal/domain/referral"
)

type stubIssuer struct{}

func (stubIssuer) IssueCode(context.Context, referral.IssueRequest) (*referral.IssuedCode, error) {
	return &referral.IssuedCode{Code: "REF-ANN-0001", ReferralID: "r-1"}, nil
}

// blockingValidator approves with a fixed amount once release is closed.
type blockingValidator struct {
	entered chan struct{}
	release chan struct{}
	amount  decimal.Decimal
}

func (v *blockingValidator) ValidateAndPrice(ctx context.Context, _ string, _ decimal.Decimal, _ string) (*referral.ValidationResult, error) {
	if v.entered != nil {
		close(v.entered)
	}
	if v.release != nil {
		select {
		case <-v.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &referral.ValidationResult{Success: true, DiscountAmount: v.amount}, nil
}

func newSession(t *testing.T, v referral.Validator) *Session {
	t.Helper()
	s, err := New(Config{ContextID: "pos-1"}, stubIssuer{}, v, nil)
	require.NoError(t, err)
	return s
}

func newOrder(t *testing.T, s *Session) *order.Order {
	t.Helper()
	o, err := s.NewOrder()
	require.NoError(t, err)
	return o
}

func addLine(t *testing.T, o *order.Order, price string) {
	t.Helper()
	require.NoError(t, o.AddLine(order.LineItem{
		ProductID: "p",
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  decimal.NewFromInt(1),
	}))
}

func TestSession_RedeemBusy(t *testing.T) {
	v := &blockingValidator{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		amount:  decimal.RequireFromString("10"),
	}
	s := newSession(t, v)
	addLine(t, newOrder(t, s), "100.00")

	done := make(chan error, 1)
	go func() {
		_, err := s.Redeem(context.Background(), "ABC")
		done <- err
	}()
	<-v.entered

	_, err := s.Redeem(context.Background(), "XYZ")
	require.ErrorIs(t, err, ErrBusy)
	_, err = s.Generate(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	_, err = s.Finalize()
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, s.Discard(), ErrBusy)
	_, err = s.NewOrder()
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, s.Order().Closed())

	close(v.release)
	require.NoError(t, <-done)

	assert.True(t, decimal.RequireFromString("90").Equal(s.Order().TotalWithTax()))
}

func TestSession_Flow(t *testing.T) {
	s := newSession(t, &blockingValidator{amount: decimal.RequireFromString("5")})
	assert.Equal(t, "pos-1", s.ContextID())

	o := newOrder(t, s)
	addLine(t, o, "50.00")
	require.NoError(t, o.SetCustomer(&order.Customer{ID: "c1", Name: "Ann", Phone: "555"}))

	gen, err := s.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "REF-ANN-0001", gen.Code)

	red, err := s.Redeem(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, referral.StatusApplied, red.Status)

	receipt, err := s.Finalize()
	require.NoError(t, err)
	assert.Nil(t, s.Order())
	assert.True(t, o.Closed())
	assert.Nil(t, o.Referral())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(receipt, &payload))
	assert.Equal(t, "receipt", payload["kind"])
	assert.Equal(t, "45.00", payload["total_with_tax"])
	ref, ok := payload["referral"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, ref, "generated")
	assert.Contains(t, ref, "redeemed")
}

func TestSession_NoOrder(t *testing.T) {
	s := newSession(t, &blockingValidator{})

	_, err := s.Redeem(context.Background(), "ABC")
	require.ErrorIs(t, err, referral.ErrNoActiveOrder)

	_, err = s.Finalize()
	require.ErrorIs(t, err, referral.ErrNoActiveOrder)

	_, err = s.Export(order.KindOrder)
	require.ErrorIs(t, err, referral.ErrNoActiveOrder)
}

func TestSession_NewOrderDiscardsPrevious(t *testing.T) {
	s := newSession(t, &blockingValidator{})

	first := newOrder(t, s)
	second := newOrder(t, s)

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Same(t, second, s.Order())

	require.NoError(t, s.Discard())
	assert.True(t, second.Closed())
	assert.Nil(t, s.Order())
}

func TestSession_DiscardWaitsForRedemption(t *testing.T) {
	v := &blockingValidator{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		amount:  decimal.RequireFromString("10"),
	}
	s := newSession(t, v)
	o := newOrder(t, s)
	addLine(t, o, "100.00")

	done := make(chan error, 1)
	go func() {
		_, err := s.Redeem(context.Background(), "ABC")
		done <- err
	}()
	<-v.entered

	require.ErrorIs(t, s.Discard(), ErrBusy)
	assert.False(t, o.Closed())

	close(v.release)
	require.NoError(t, <-done)
	assert.Equal(t, "ABC", o.Referral().UsedCode)

	require.NoError(t, s.Discard())
	assert.True(t, o.Closed())
}
