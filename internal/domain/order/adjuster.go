package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest acceptable difference between the approved
// discount and the actual reduction of the order total.
var Tolerance = decimal.RequireFromString("0.01")

// ConsistencyError reports that the order total moved by a different amount
// than the approved discount. It is returned by ApplyDiscount after the lines
// were already changed; the caller decides whether to keep them.
type ConsistencyError struct {
	// Expected is the approved discount amount.
	Expected decimal.Decimal
	// Actual is the observed reduction of the order total.
	Actual decimal.Decimal
}

// Error implements error.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("order total reduced by %s, expected %s",
		e.Actual.StringFixed(2), e.Expected.StringFixed(2))
}

// Adjustment describes the outcome of a discount change.
type Adjustment struct {
	// Applied is false when no line was touched.
	Applied       bool
	Percentage    decimal.Decimal
	Lines         int
	OriginalTotal decimal.Decimal
	NewTotal      decimal.Decimal
	// Shifts holds the change of every line discount by line index. It
	// differs from Percentage where a line was clamped at 0 or 100.
	Shifts []decimal.Decimal
}

// Reduction returns how much the order total went down.
func (a Adjustment) Reduction() decimal.Decimal {
	return a.OriginalTotal.Sub(a.NewTotal)
}

// ApplyDiscount spreads an absolute discount over the order by adding the
// same percentage to the discount of every eligible line.
//
// It returns an Adjustment with Applied=false when the order has no eligible
// lines or a non-positive total. When the resulting total is off by Tolerance
// or more, the lines stay adjusted and a *ConsistencyError is returned.
func ApplyDiscount(o *Order, amount decimal.Decimal) (Adjustment, error) {
	if amount.IsNegative() {
		return Adjustment{}, ErrNegativeDiscount
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Adjustment{}, ErrOrderClosed
	}
	original := o.totalLocked()
	eligible := countEligible(o.lines)
	if eligible == 0 || !original.IsPositive() {
		o.mu.Unlock()
		return Adjustment{OriginalTotal: original, NewTotal: original}, nil
	}

	pct := amount.Div(original).Mul(hundred)
	shifts := shiftDiscounts(o.lines, pct)
	updated := o.totalLocked()
	o.mu.Unlock()

	o.emit(EventLinesChanged)

	adj := Adjustment{
		Applied:       true,
		Percentage:    pct,
		Lines:         eligible,
		OriginalTotal: original,
		NewTotal:      updated,
		Shifts:        shifts,
	}
	if diff := adj.Reduction().Sub(amount).Abs(); diff.GreaterThanOrEqual(Tolerance) {
		return adj, &ConsistencyError{Expected: amount, Actual: adj.Reduction()}
	}
	return adj, nil
}

// RemoveDiscount takes back the line changes recorded in Adjustment.Shifts
// of an earlier ApplyDiscount. Lines added after it are not touched.
func RemoveDiscount(o *Order, shifts []decimal.Decimal) (Adjustment, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Adjustment{}, ErrOrderClosed
	}
	original := o.totalLocked()
	reverted := revertShifts(o.lines, shifts)
	if reverted == 0 {
		o.mu.Unlock()
		return Adjustment{OriginalTotal: original, NewTotal: original}, nil
	}
	updated := o.totalLocked()
	o.mu.Unlock()

	o.emit(EventLinesChanged)

	back := make([]decimal.Decimal, len(shifts))
	for i, sh := range shifts {
		back[i] = sh.Neg()
	}
	return Adjustment{
		Applied:       true,
		Lines:         reverted,
		OriginalTotal: original,
		NewTotal:      updated,
		Shifts:        back,
	}, nil
}

// TotalWithoutShifts returns the total the snapshot would have if shifts
// were taken back. The snapshot is not modified.
func (s *Snapshot) TotalWithoutShifts(shifts []decimal.Decimal) decimal.Decimal {
	lines := make([]LineItem, len(s.Lines))
	copy(lines, s.Lines)
	revertShifts(lines, shifts)

	sum := zero
	for _, l := range lines {
		sum = sum.Add(l.TotalWithTax())
	}
	return sum.Round(2)
}

func countEligible(lines []LineItem) int {
	n := 0
	for _, l := range lines {
		if l.Eligible() {
			n++
		}
	}
	return n
}

// shiftDiscounts adds delta to every eligible line discount, clamping the
// result to [0, 100], and returns the change of each line. Reward lines are
// never touched.
func shiftDiscounts(lines []LineItem, delta decimal.Decimal) []decimal.Decimal {
	shifts := make([]decimal.Decimal, len(lines))
	for i := range lines {
		if !lines[i].Eligible() {
			shifts[i] = zero
			continue
		}
		before := lines[i].Discount
		lines[i].Discount = clampPercentage(before.Add(delta))
		shifts[i] = lines[i].Discount.Sub(before)
	}
	return shifts
}

// revertShifts subtracts shifts from the matching lines and reports how many
// lines changed.
func revertShifts(lines []LineItem, shifts []decimal.Decimal) int {
	n := 0
	for i, sh := range shifts {
		if i >= len(lines) || sh.IsZero() {
			continue
		}
		lines[i].Discount = clampPercentage(lines[i].Discount.Sub(sh))
		n++
	}
	return n
}
