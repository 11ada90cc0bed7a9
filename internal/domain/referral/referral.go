// Package referral coordinates referral code generation and redemption on a
// POS order. The issuing and validating authority is reached through the
// Issuer and Validator interfaces; outcomes are reported to a Notifier.
package referral

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// IssueRequest holds the data sent to the authority to issue a code.
type IssueRequest struct {
	CustomerID   string
	Phone        string
	ContextID    string
	CustomerName string
}

// IssuedCode is a code issued by the authority.
type IssuedCode struct {
	Code       string
	ReferralID string
}

// Issuer issues referral codes for a referring customer.
type Issuer interface {
	IssueCode(ctx context.Context, req IssueRequest) (*IssuedCode, error)
}

// ValidationResult is the authority's answer to a redemption attempt.
// DiscountAmount is an absolute amount relative to the order total sent.
type ValidationResult struct {
	Success        bool
	DiscountAmount decimal.Decimal
	Message        string
}

// Validator validates a code and prices the discount for an order total.
type Validator interface {
	ValidateAndPrice(ctx context.Context, code string, orderTotal decimal.Decimal, contextID string) (*ValidationResult, error)
}

// Severity classifies user-facing notices.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier shows a message to the cashier.
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string, severity Severity)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, message string, severity Severity) {
	f(ctx, message, severity)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, Severity) {}

// Normalize trims whitespace and upper-cases a code entered by the cashier.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Telemetry holds the optional logging and metrics dependencies of the
// coordinators. Zero values fall back to no-op implementations.
type Telemetry struct {
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

func (t Telemetry) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t Telemetry) meter() metric.Meter {
	mp := t.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	return mp.Meter("github.com/xenking/pos-referral/internal/domain/referral")
}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
