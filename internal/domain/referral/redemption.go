package referral

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/domain/order"
)

// Policy decides what happens when a code is redeemed on an order that
// already carries a redemption.
type Policy int

const (
	// PolicyReject fails the second redemption with ErrAlreadyRedeemed
	// without contacting the authority.
	PolicyReject Policy = iota
	// PolicyReplace takes back the previous discount and applies the new
	// one in its place.
	PolicyReplace
)

// Status is the outcome of an accepted redemption.
type Status string

const (
	// StatusApplied means the order total dropped by the approved amount.
	StatusApplied Status = "applied"
	// StatusNeedsManualAdjustment means the redemption was recorded but
	// the order lines do not reflect it exactly.
	StatusNeedsManualAdjustment Status = "needs_manual_adjustment"
)

// Redeemed describes an accepted redemption.
type Redeemed struct {
	Code           string
	DiscountAmount decimal.Decimal
	Status         Status
	Adjustment     order.Adjustment
	// Replaced is the previously redeemed code, set under PolicyReplace.
	Replaced string
}

// RedeemerConfig configures a Redeemer.
type RedeemerConfig struct {
	Policy    Policy
	Telemetry Telemetry
}

// Redeemer validates a code with the authority and distributes the approved
// discount over the order lines.
type Redeemer struct {
	validator Validator
	notifier  Notifier
	policy    Policy
	lg        *zap.Logger

	redemptions metric.Int64Counter
}

// NewRedeemer creates a Redeemer.
func NewRedeemer(cfg RedeemerConfig, validator Validator, notifier Notifier) (*Redeemer, error) {
	redemptions, err := cfg.Telemetry.meter().Int64Counter("referral.redemptions",
		metric.WithDescription("Referral code redemption attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}

	return &Redeemer{
		validator:   validator,
		notifier:    notifierOrNop(notifier),
		policy:      cfg.Policy,
		lg:          cfg.Telemetry.logger(),
		redemptions: redemptions,
	}, nil
}

// Redeem normalizes rawCode, asks the authority to validate and price it for
// the current order total, and applies the approved discount.
//
// When the authority accepts the code but the order cannot be adjusted
// exactly, the redemption is still recorded and Redeem returns both a
// Redeemed with StatusNeedsManualAdjustment and a *ManualAdjustmentError.
func (r *Redeemer) Redeem(ctx context.Context, o *order.Order, rawCode, contextID string) (*Redeemed, error) {
	if o == nil || o.Closed() {
		return nil, r.fail(ctx, "invalid", ErrNoActiveOrder)
	}
	code := Normalize(rawCode)
	if code == "" {
		return nil, r.fail(ctx, "invalid", ErrEmptyCode)
	}

	snap := o.Snapshot()
	total := snap.TotalWithTax
	var previous *order.ReferralState
	if snap.Referral.HasRedemption() {
		if r.policy != PolicyReplace {
			return nil, r.fail(ctx, "invalid", ErrAlreadyRedeemed)
		}
		previous = snap.Referral
		total = snap.TotalWithoutShifts(previous.AppliedLineShifts)
	}

	res, err := r.validator.ValidateAndPrice(ctx, code, total, contextID)
	if err != nil {
		return nil, r.fail(ctx, "error", &AuthorityError{
			Op:      OpRedeem,
			Message: authorityMessage(err),
			Err:     err,
		})
	}
	if res == nil || !res.Success {
		msg := ""
		if res != nil {
			msg = res.Message
		}
		return nil, r.fail(ctx, "rejected", &AuthorityError{Op: OpRedeem, Message: msg, Err: ErrRejected})
	}
	amount := res.DiscountAmount
	if amount.IsNegative() {
		return nil, r.fail(ctx, "error", &AuthorityError{Op: OpRedeem, Err: order.ErrNegativeDiscount})
	}

	if previous != nil {
		if _, err := order.RemoveDiscount(o, previous.AppliedLineShifts); err != nil {
			return nil, r.fail(ctx, "invalid", err)
		}
	}

	adj, applyErr := order.ApplyDiscount(o, amount)
	if errors.Is(applyErr, order.ErrOrderClosed) {
		return nil, r.fail(ctx, "invalid", applyErr)
	}
	if applyErr == nil && !adj.Applied {
		applyErr = ErrNotApplied
	}

	if err := o.UpdateReferral(func(s *order.ReferralState) {
		s.UsedCode = code
		s.AppliedDiscountAmount = &amount
		s.AppliedDiscountPercentage = adj.Percentage
		s.AppliedLineShifts = adj.Shifts
		s.NeedsManualAdjustment = applyErr != nil
	}); err != nil {
		return nil, r.fail(ctx, "invalid", err)
	}

	out := &Redeemed{
		Code:           code,
		DiscountAmount: amount,
		Status:         StatusApplied,
		Adjustment:     adj,
	}
	if previous != nil {
		out.Replaced = previous.UsedCode
	}

	if applyErr != nil {
		out.Status = StatusNeedsManualAdjustment
		err := &ManualAdjustmentError{Code: code, Amount: amount, Err: applyErr}
		r.lg.Warn("Referral discount needs manual adjustment",
			zap.String("order_id", o.ID),
			zap.String("code", code),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(applyErr),
		)
		r.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "manual")))
		r.notifier.Notify(ctx, UserMessage(err), SeverityWarning)
		return out, err
	}

	r.lg.Info("Referral discount applied",
		zap.String("order_id", o.ID),
		zap.String("code", code),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("new_total", adj.NewTotal.StringFixed(2)),
	)
	r.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "applied")))
	r.notifier.Notify(ctx, fmt.Sprintf("Referral discount: %s applied successfully.", amount.StringFixed(2)), SeveritySuccess)

	return out, nil
}

func (r *Redeemer) fail(ctx context.Context, outcome string, err error) error {
	r.lg.Warn("Referral code not redeemed", zap.String("outcome", outcome), zap.Error(err))
	r.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	r.notifier.Notify(ctx, UserMessage(err), SeverityError)
	return err
}
