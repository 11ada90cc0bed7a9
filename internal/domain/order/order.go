package order

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order mutation.
var (
	ErrOrderClosed      = errors.New("order is closed")
	ErrNegativeDiscount = errors.New("discount amount must not be negative")
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// EventKind identifies what changed on an order.
type EventKind int

const (
	EventLinesChanged EventKind = iota + 1
	EventCustomerChanged
	EventReferralChanged
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventLinesChanged:
		return "lines_changed"
	case EventCustomerChanged:
		return "customer_changed"
	case EventReferralChanged:
		return "referral_changed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is emitted to listeners registered with OnChange.
type Event struct {
	Kind    EventKind
	OrderID string
}

// Customer is the customer selected on an order.
type Customer struct {
	ID     string
	Name   string
	Phone  string
	Mobile string
}

// ContactPhone returns the landline number, falling back to the mobile one.
func (c *Customer) ContactPhone() string {
	if c.Phone != "" {
		return c.Phone
	}
	return c.Mobile
}

// LineItem is a single order line. Discount and TaxRate are percentages.
type LineItem struct {
	ProductID       string
	Name            string
	UnitPrice       decimal.Decimal
	Quantity        decimal.Decimal
	Discount        decimal.Decimal
	TaxRate         decimal.Decimal
	IsProgramReward bool
	Note            string
}

// Eligible reports whether the line may receive referral discounts.
func (l LineItem) Eligible() bool {
	return !l.IsProgramReward
}

// Subtotal returns price * quantity after the line discount, before tax.
func (l LineItem) Subtotal() decimal.Decimal {
	gross := l.UnitPrice.Mul(l.Quantity)
	return gross.Mul(hundred.Sub(l.Discount)).Div(hundred)
}

// TotalWithTax returns the discounted line value including tax.
func (l LineItem) TotalWithTax() decimal.Decimal {
	return l.Subtotal().Mul(hundred.Add(l.TaxRate)).Div(hundred)
}

// Order is an in-progress POS order. It owns its referral state.
//
// All line mutations take mu, so reading the total and writing discounts
// in ApplyDiscount cannot interleave with other writers.
type Order struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	lines     []LineItem
	customer  *Customer
	referral  *ReferralState
	closed    bool
	listeners []func(Event)
}

// New creates an empty open order.
func New() *Order {
	return &Order{
		ID:        xid.New().String(),
		CreatedAt: time.Now(),
	}
}

// OnChange registers fn to be called after every change. Listeners run
// synchronously, outside the order lock.
func (o *Order) OnChange(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// NotifyChanged tells listeners that line state changed and totals must be
// recomputed.
func (o *Order) NotifyChanged() {
	o.emit(EventLinesChanged)
}

func (o *Order) emit(kind EventKind) {
	o.mu.Lock()
	listeners := make([]func(Event), len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	ev := Event{Kind: kind, OrderID: o.ID}
	for _, fn := range listeners {
		fn(ev)
	}
}

// AddLine appends a line. The discount is clamped to [0, 100].
func (o *Order) AddLine(l LineItem) error {
	if !l.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	l.Discount = clampPercentage(l.Discount)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOrderClosed
	}
	o.lines = append(o.lines, l)
	o.mu.Unlock()

	o.emit(EventLinesChanged)
	return nil
}

// Lines returns a copy of the order lines.
func (o *Order) Lines() []LineItem {
	o.mu.Lock()
	defer o.mu.Unlock()

	lines := make([]LineItem, len(o.lines))
	copy(lines, o.lines)
	return lines
}

// TotalWithTax returns the order total including tax, rounded to 2 decimal
// places.
func (o *Order) TotalWithTax() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalLocked()
}

func (o *Order) totalLocked() decimal.Decimal {
	sum := zero
	for _, l := range o.lines {
		sum = sum.Add(l.TotalWithTax())
	}
	return sum.Round(2)
}

// Customer returns the selected customer or nil.
func (o *Order) Customer() *Customer {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.customer == nil {
		return nil
	}
	c := *o.customer
	return &c
}

// SetCustomer selects a customer. Passing nil clears the selection.
func (o *Order) SetCustomer(c *Customer) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOrderClosed
	}
	if c == nil {
		o.customer = nil
	} else {
		cp := *c
		o.customer = &cp
	}
	o.mu.Unlock()

	o.emit(EventCustomerChanged)
	return nil
}

// Referral returns a copy of the referral state, or nil if none was written.
func (o *Order) Referral() *ReferralState {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.referral == nil {
		return nil
	}
	s := o.referral.clone()
	return &s
}

// UpdateReferral runs fn against the referral state, creating it on first
// write.
func (o *Order) UpdateReferral(fn func(s *ReferralState)) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOrderClosed
	}
	if o.referral == nil {
		o.referral = &ReferralState{}
	}
	fn(o.referral)
	o.mu.Unlock()

	o.emit(EventReferralChanged)
	return nil
}

// Closed reports whether the order was finalized or discarded.
func (o *Order) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Finalize closes the order and discards its referral state. Export the
// order before finalizing it if the referral data must be kept.
func (o *Order) Finalize() {
	o.close()
}

// Discard closes the order without completing it.
func (o *Order) Discard() {
	o.close()
}

func (o *Order) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.referral = nil
	o.mu.Unlock()

	o.emit(EventClosed)
}

// Snapshot is a consistent point-in-time copy of an order.
type Snapshot struct {
	ID           string
	CreatedAt    time.Time
	Lines        []LineItem
	Customer     *Customer
	Referral     *ReferralState
	TotalWithTax decimal.Decimal
}

// Snapshot copies the order state under a single lock.
func (o *Order) Snapshot() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := &Snapshot{
		ID:           o.ID,
		CreatedAt:    o.CreatedAt,
		Lines:        make([]LineItem, len(o.lines)),
		TotalWithTax: o.totalLocked(),
	}
	copy(s.Lines, o.lines)
	if o.customer != nil {
		c := *o.customer
		s.Customer = &c
	}
	if o.referral != nil {
		r := o.referral.clone()
		s.Referral = &r
	}
	return s
}

// clampPercentage clamps p to [0, 100].
func clampPercentage(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
