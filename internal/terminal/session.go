// Package terminal holds the state of a single POS terminal: the current
// order, the session context it belongs to and the referral coordinators
// bound to them.
package terminal

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/domain/order"
	"github.com/xenking/pos-referral/internal/domain/referral"
)

// ErrBusy is returned when an operation is already in flight for the
// session.
var ErrBusy = errors.New("referral operation already in progress")

// Config configures a Session.
type Config struct {
	// ContextID identifies the POS session towards the authority.
	ContextID string
	// Policy controls a second redemption on the same order.
	Policy    referral.Policy
	Telemetry referral.Telemetry
}

// Session binds the referral coordinators to the terminal's current order.
//
// At most one operation runs at a time: a generation, a redemption, or
// replacing, finalizing or discarding the order. A concurrent call fails
// fast with ErrBusy instead of queueing.
type Session struct {
	contextID string
	generator *referral.Generator
	redeemer  *referral.Redeemer
	exporter  *order.Exporter
	lg        *zap.Logger

	busy atomic.Bool

	mu      sync.Mutex
	current *order.Order
}

// New creates a Session without an open order.
func New(cfg Config, issuer referral.Issuer, validator referral.Validator, notifier referral.Notifier) (*Session, error) {
	generator, err := referral.NewGenerator(issuer, notifier, cfg.Telemetry)
	if err != nil {
		return nil, errors.Wrap(err, "create generator")
	}
	redeemer, err := referral.NewRedeemer(referral.RedeemerConfig{
		Policy:    cfg.Policy,
		Telemetry: cfg.Telemetry,
	}, validator, notifier)
	if err != nil {
		return nil, errors.Wrap(err, "create redeemer")
	}

	lg := cfg.Telemetry.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	return &Session{
		contextID: cfg.ContextID,
		generator: generator,
		redeemer:  redeemer,
		exporter:  order.NewExporter(referral.PayloadContributor{}),
		lg:        lg,
	}, nil
}

// ContextID returns the session context id.
func (s *Session) ContextID() string {
	return s.contextID
}

// Order returns the current order or nil.
func (s *Session) Order() *order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// NewOrder discards the current order, if any, and opens a new one.
func (s *Session) NewOrder() (*order.Order, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	o := order.New()

	s.mu.Lock()
	prev := s.current
	s.current = o
	s.mu.Unlock()

	if prev != nil {
		prev.Discard()
	}
	s.lg.Debug("Order opened", zap.String("order_id", o.ID))
	return o, nil
}

// Generate issues a referral code for the customer of the current order.
func (s *Session) Generate(ctx context.Context) (*referral.Generated, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	return s.generator.Generate(ctx, s.Order(), s.contextID)
}

// Redeem applies a referral code to the current order.
func (s *Session) Redeem(ctx context.Context, code string) (*referral.Redeemed, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	return s.redeemer.Redeem(ctx, s.Order(), code, s.contextID)
}

// Export encodes the current order.
func (s *Session) Export(kind order.Kind) ([]byte, error) {
	o := s.Order()
	if o == nil {
		return nil, referral.ErrNoActiveOrder
	}
	return s.exporter.Export(kind, o), nil
}

// Finalize exports the receipt of the current order and closes it. The
// referral state is dropped together with the order.
func (s *Session) Finalize() ([]byte, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	o := s.current
	s.current = nil
	s.mu.Unlock()

	if o == nil {
		return nil, referral.ErrNoActiveOrder
	}

	receipt := s.exporter.Export(order.KindReceipt, o)
	o.Finalize()
	s.lg.Info("Order finalized", zap.String("order_id", o.ID))
	return receipt, nil
}

// Discard drops the current order without a receipt.
func (s *Session) Discard() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	o := s.current
	s.current = nil
	s.mu.Unlock()

	if o != nil {
		o.Discard()
		s.lg.Info("Order discarded", zap.String("order_id", o.ID))
	}
	return nil
}
