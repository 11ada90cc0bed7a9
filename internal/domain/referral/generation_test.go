package referral

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-referral/internal/domain/order"
)

func newGenerator(t *testing.T, issuer Issuer, n Notifier) *Generator {
	t.Helper()
	g, err := NewGenerator(issuer, n, Telemetry{})
	require.NoError(t, err)
	return g
}

func orderWithCustomer(t *testing.T, c *order.Customer) *order.Order {
	t.Helper()
	o := order.New()
	if c != nil {
		require.NoError(t, o.SetCustomer(c))
	}
	return o
}

func TestGenerate_Preconditions(t *testing.T) {
	tests := []struct {
		name      string
		customer  *order.Customer
		contextID string
		wantErr   error
		wantMsg   string
	}{
		{
			name:      "no customer",
			contextID: "pos-1",
			wantErr:   ErrNoCustomerSelected,
			wantMsg:   "Please select a customer first.",
		},
		{
			name:      "no customer wins over missing context",
			contextID: "",
			wantErr:   ErrNoCustomerSelected,
		},
		{
			name:      "customer without phone",
			customer:  &order.Customer{ID: "c1", Name: "Ann"},
			contextID: "pos-1",
			wantErr:   ErrMissingPhoneNumber,
			wantMsg:   "Customer must have a phone number to generate referral code.",
		},
		{
			name:      "missing phone wins over missing context",
			customer:  &order.Customer{ID: "c1", Name: "Ann"},
			contextID: " ",
			wantErr:   ErrMissingPhoneNumber,
		},
		{
			name:      "no session context",
			customer:  &order.Customer{ID: "c1", Name: "Ann", Phone: "555"},
			contextID: "  ",
			wantErr:   ErrNoSessionContext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := &mockIssuer{issued: &IssuedCode{Code: "X"}}
			n := &recordingNotifier{}
			g := newGenerator(t, issuer, n)
			o := orderWithCustomer(t, tt.customer)

			got, err := g.Generate(context.Background(), o, tt.contextID)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
			assert.Zero(t, issuer.calls)
			assert.Nil(t, o.Referral())
			assert.Equal(t, SeverityError, n.last().severity)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, n.last().message)
			}
		})
	}
}

func TestGenerate_NoOrder(t *testing.T) {
	issuer := &mockIssuer{}
	g := newGenerator(t, issuer, nil)

	_, err := g.Generate(context.Background(), nil, "pos-1")
	require.ErrorIs(t, err, ErrNoActiveOrder)
	assert.Zero(t, issuer.calls)
}

func TestGenerate_ClosedOrder(t *testing.T) {
	for name, closeOrder := range map[string]func(o *order.Order){
		"Finalized": (*order.Order).Finalize,
		"Discarded": (*order.Order).Discard,
	} {
		t.Run(name, func(t *testing.T) {
			issuer := &mockIssuer{issued: &IssuedCode{Code: "REF-ALI-0001", ReferralID: "r-1"}}
			n := &recordingNotifier{}
			g := newGenerator(t, issuer, n)
			o := orderWithCustomer(t, &order.Customer{ID: "c-1", Name: "Alice", Phone: "555"})
			closeOrder(o)

			_, err := g.Generate(context.Background(), o, "pos-1")
			require.ErrorIs(t, err, ErrNoActiveOrder)
			assert.Zero(t, issuer.calls)
			assert.Equal(t, SeverityError, n.last().severity)
		})
	}
}

func TestGenerate_UsesMobileWhenPhoneMissing(t *testing.T) {
	issuer := &mockIssuer{issued: &IssuedCode{Code: "REF-ANN-1234", ReferralID: "r-1"}}
	n := &recordingNotifier{}
	g := newGenerator(t, issuer, n)
	o := orderWithCustomer(t, &order.Customer{ID: "c1", Name: "Ann Lee", Mobile: "555-1234"})

	got, err := g.Generate(context.Background(), o, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "REF-ANN-1234", got.Code)
	assert.Equal(t, "r-1", got.ReferralID)

	assert.Equal(t, 1, issuer.calls)
	assert.Equal(t, IssueRequest{
		CustomerID:   "c1",
		Phone:        "555-1234",
		ContextID:    "pos-1",
		CustomerName: "Ann Lee",
	}, issuer.last)

	s := o.Referral()
	require.NotNil(t, s)
	assert.Equal(t, "REF-ANN-1234", s.GeneratedCode)
	assert.Equal(t, "r-1", s.GeneratedReferralID)
	assert.Equal(t, "Ann Lee", s.GeneratingCustomerName)
	assert.False(t, s.HasRedemption())

	assert.Equal(t, notice{message: "Referral code generated: REF-ANN-1234", severity: SeveritySuccess}, n.last())
}

func TestGenerate_PrefersLandline(t *testing.T) {
	issuer := &mockIssuer{issued: &IssuedCode{Code: "C"}}
	g := newGenerator(t, issuer, nil)
	o := orderWithCustomer(t, &order.Customer{ID: "c1", Phone: "111", Mobile: "222"})

	_, err := g.Generate(context.Background(), o, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "111", issuer.last.Phone)
}

func TestGenerate_AuthorityErrors(t *testing.T) {
	tests := []struct {
		name    string
		issuer  *mockIssuer
		wantMsg string
	}{
		{
			name:    "message passed through",
			issuer:  &mockIssuer{err: &transportError{msg: "Referral program is disabled"}},
			wantMsg: "Referral program is disabled",
		},
		{
			name:    "network failure",
			issuer:  &mockIssuer{err: errors.New("dial tcp: connection refused")},
			wantMsg: "Failed to generate referral code. Please try again.",
		},
		{
			name:    "empty response",
			issuer:  &mockIssuer{issued: &IssuedCode{}},
			wantMsg: "Failed to generate referral code. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			g := newGenerator(t, tt.issuer, n)
			o := orderWithCustomer(t, &order.Customer{ID: "c1", Phone: "111"})

			_, err := g.Generate(context.Background(), o, "pos-1")

			var authErr *AuthorityError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, OpGenerate, authErr.Op)
			assert.Equal(t, 1, tt.issuer.calls)
			assert.Nil(t, o.Referral())
			assert.Equal(t, notice{message: tt.wantMsg, severity: SeverityError}, n.last())
		})
	}
}
