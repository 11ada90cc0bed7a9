package referral

import (
	"context"

	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

type mockIssuer struct {
	issued *IssuedCode
	err    error
	calls  int
	last   IssueRequest
}

func (m *mockIssuer) IssueCode(_ context.Context, req IssueRequest) (*IssuedCode, error) {
	m.calls++
	m.last = req
	return m.issued, m.err
}

type mockValidator struct {
	result *ValidationResult
	err    error

	calls       int
	lastCode    string
	lastTotal   decimal.Decimal
	lastContext string
}

func (m *mockValidator) ValidateAndPrice(_ context.Context, code string, total decimal.Decimal, contextID string) (*ValidationResult, error) {
	m.calls++
	m.lastCode = code
	m.lastTotal = total
	m.lastContext = contextID
	return m.result, m.err
}

type notice struct {
	message  string
	severity Severity
}

type recordingNotifier struct {
	notices []notice
}

func (n *recordingNotifier) Notify(_ context.Context, message string, severity Severity) {
	n.notices = append(n.notices, notice{message: message, severity: severity})
}

func (n *recordingNotifier) last() notice {
	if len(n.notices) == 0 {
		return notice{}
	}
	return n.notices[len(n.notices)-1]
}

// transportError mimics a client error carrying the authority's message.
type transportError struct {
	msg string
}

func (e *transportError) Error() string           { return "authority: " + e.msg }
func (e *transportError) AuthorityMessage() string { return e.msg }

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
