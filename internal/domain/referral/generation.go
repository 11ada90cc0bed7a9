package referral

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/domain/order"
)

// Generated is the result of a successful code generation.
type Generated struct {
	Code       string
	ReferralID string
}

// Generator issues a referral code for the customer selected on an order.
type Generator struct {
	issuer   Issuer
	notifier Notifier
	lg       *zap.Logger

	generations metric.Int64Counter
}

// NewGenerator creates a Generator that issues codes through issuer and
// reports outcomes to notifier.
func NewGenerator(issuer Issuer, notifier Notifier, tel Telemetry) (*Generator, error) {
	generations, err := tel.meter().Int64Counter("referral.generations",
		metric.WithDescription("Referral code generation attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create generations counter")
	}

	return &Generator{
		issuer:      issuer,
		notifier:    notifierOrNop(notifier),
		lg:          tel.logger(),
		generations: generations,
	}, nil
}

// Generate checks that a customer with a contact phone is selected and a
// session context is known, then asks the authority for a code. The code is
// stored on the order's referral state. There is no retry.
func (g *Generator) Generate(ctx context.Context, o *order.Order, contextID string) (*Generated, error) {
	if o == nil || o.Closed() {
		return nil, g.fail(ctx, "invalid", ErrNoActiveOrder)
	}
	customer := o.Customer()
	if customer == nil {
		return nil, g.fail(ctx, "invalid", ErrNoCustomerSelected)
	}
	phone := customer.ContactPhone()
	if phone == "" {
		return nil, g.fail(ctx, "invalid", ErrMissingPhoneNumber)
	}
	contextID = strings.TrimSpace(contextID)
	if contextID == "" {
		return nil, g.fail(ctx, "invalid", ErrNoSessionContext)
	}

	issued, err := g.issuer.IssueCode(ctx, IssueRequest{
		CustomerID:   customer.ID,
		Phone:        phone,
		ContextID:    contextID,
		CustomerName: customer.Name,
	})
	if err != nil {
		return nil, g.fail(ctx, "error", &AuthorityError{
			Op:      OpGenerate,
			Message: authorityMessage(err),
			Err:     err,
		})
	}
	if issued == nil || issued.Code == "" {
		return nil, g.fail(ctx, "error", &AuthorityError{
			Op:  OpGenerate,
			Err: errors.New("authority returned no code"),
		})
	}

	if err := o.UpdateReferral(func(s *order.ReferralState) {
		s.GeneratedCode = issued.Code
		s.GeneratedReferralID = issued.ReferralID
		s.GeneratingCustomerName = customer.Name
	}); err != nil {
		return nil, g.fail(ctx, "invalid", err)
	}

	g.lg.Info("Referral code generated",
		zap.String("order_id", o.ID),
		zap.String("customer_id", customer.ID),
		zap.String("code", issued.Code),
	)
	g.generations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "issued")))
	g.notifier.Notify(ctx, fmt.Sprintf("Referral code generated: %s", issued.Code), SeveritySuccess)

	return &Generated{Code: issued.Code, ReferralID: issued.ReferralID}, nil
}

func (g *Generator) fail(ctx context.Context, outcome string, err error) error {
	g.lg.Warn("Referral code not generated", zap.String("outcome", outcome), zap.Error(err))
	g.generations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	g.notifier.Notify(ctx, UserMessage(err), SeverityError)
	return err
}
