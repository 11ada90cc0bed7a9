// Package authority is the server side of the referral program: it issues
// codes, validates and prices redemptions and keeps usage counters.
package authority

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/domain/referral"
)

const instrumentationName = "github.com/xenking/pos-referral/internal/authority"

// Config configures a Service.
type Config struct {
	// Defaults apply to contexts without stored settings.
	Defaults Settings
	// IssueAttempts bounds retries when a generated code collides.
	IssueAttempts uint
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// CodeStatus is the read-only view of a code.
type CodeStatus struct {
	Valid        bool
	Message      string
	CustomerName string
}

// Service issues referral codes and prices their redemptions.
type Service struct {
	codes    CodeStore
	settings SettingsStore
	locker   Locker
	gen      *CodeGenerator

	defaults Settings
	attempts uint
	now      func() time.Time

	lg          *zap.Logger
	tracer      trace.Tracer
	issued      metric.Int64Counter
	validations metric.Int64Counter
}

var (
	_ referral.Issuer    = (*Service)(nil)
	_ referral.Validator = (*Service)(nil)
)

// NewService creates a Service.
func NewService(cfg Config, codes CodeStore, settings SettingsStore, locker Locker, gen *CodeGenerator) (*Service, error) {
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, errors.Wrap(err, "default settings")
	}
	if cfg.IssueAttempts == 0 {
		cfg.IssueAttempts = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	meter := cfg.MeterProvider.Meter(instrumentationName)
	issued, err := meter.Int64Counter("referral.codes.issued",
		metric.WithDescription("Referral codes issued"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create issued counter")
	}
	validations, err := meter.Int64Counter("referral.codes.validations",
		metric.WithDescription("Referral code validations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validations counter")
	}

	return &Service{
		codes:       codes,
		settings:    settings,
		locker:      locker,
		gen:         gen,
		defaults:    cfg.Defaults,
		attempts:    cfg.IssueAttempts,
		now:         cfg.Now,
		lg:          cfg.Logger,
		tracer:      cfg.TracerProvider.Tracer(instrumentationName),
		issued:      issued,
		validations: validations,
	}, nil
}

// Warm loads the stored codes into the generator filter.
func (s *Service) Warm(ctx context.Context) error {
	known, err := s.codes.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list codes")
	}
	for _, c := range known {
		s.gen.Add(c)
	}
	s.lg.Info("Code filter warmed", zap.Int("codes", len(known)))
	return nil
}

// Settings returns the settings of contextID, falling back to the defaults.
func (s *Service) Settings(ctx context.Context, contextID string) (Settings, error) {
	if contextID == "" {
		return s.defaults, nil
	}
	stored, err := s.settings.FindSettings(ctx, contextID)
	switch {
	case errors.Is(err, ErrSettingsNotFound):
		out := s.defaults
		out.ContextID = contextID
		return out, nil
	case err != nil:
		return Settings{}, errors.Wrap(err, "find settings")
	default:
		return *stored, nil
	}
}

// IssueCode creates a new code for the customer in req. A collision with an
// existing code is retried with a fresh candidate.
func (s *Service) IssueCode(ctx context.Context, req referral.IssueRequest) (_ *referral.IssuedCode, rerr error) {
	ctx, span := s.tracer.Start(ctx, "authority.IssueCode",
		trace.WithAttributes(attribute.String("referral.context_id", req.ContextID)),
	)
	defer func() { endSpan(span, rerr) }()

	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, reject(MsgCustomerNeeded)
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, reject(MsgPhoneNeeded)
	}

	settings, err := s.Settings(ctx, req.ContextID)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, reject(MsgDisabled)
	}

	var created *Code
	err = retry.Do(
		func() error {
			now := s.now()
			c := &Code{
				ID:                 uuid.NewString(),
				Code:               s.gen.Next(settings.CodePrefix, req.CustomerName),
				CustomerID:         req.CustomerID,
				CustomerName:       req.CustomerName,
				Phone:              req.Phone,
				ContextID:          req.ContextID,
				MaxUses:            settings.MaxUsesPerCode,
				TotalDiscountGiven: decimal.Zero,
				Active:             true,
				ExpiresAt:          settings.ExpiresAt(now),
				CreatedAt:          now,
			}
			if err := s.codes.CreateCode(ctx, c); err != nil {
				if errors.Is(err, ErrCodeTaken) {
					s.gen.Add(c.Code)
				}
				return err
			}
			created = c
			return nil
		},
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrCodeTaken)
		}),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(10*time.Millisecond),
		retry.Attempts(s.attempts),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, errors.Wrap(err, "issue code")
	}
	s.gen.Add(created.Code)

	s.lg.Info("Referral code issued",
		zap.String("code", created.Code),
		zap.String("customer_id", created.CustomerID),
		zap.String("context_id", created.ContextID),
		zap.Time("expires_at", created.ExpiresAt),
	)
	s.issued.Add(ctx, 1)

	return &referral.IssuedCode{Code: created.Code, ReferralID: created.ID}, nil
}

// ValidateAndPrice checks that code can be redeemed for an order of total in
// contextID and records the redemption. Business rejections are returned as
// an unsuccessful result, not as an error.
func (s *Service) ValidateAndPrice(ctx context.Context, code string, total decimal.Decimal, contextID string) (_ *referral.ValidationResult, rerr error) {
	code = referral.Normalize(code)
	ctx, span := s.tracer.Start(ctx, "authority.ValidateAndPrice",
		trace.WithAttributes(
			attribute.String("referral.code", code),
			attribute.String("referral.context_id", contextID),
		),
	)
	defer func() { endSpan(span, rerr) }()

	if code == "" {
		return s.rejected(ctx, MsgCodeRequired), nil
	}
	if total.IsNegative() {
		return s.rejected(ctx, MsgNegativeTotal), nil
	}

	unlock, err := s.locker.Lock(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "lock code")
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.lg.Warn("Release code lock", zap.String("code", code), zap.Error(err))
		}
	}()

	rec, err := s.codes.FindCode(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		return s.rejected(ctx, MsgNotFound), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find referral code")
	}

	// The redeeming context prices the order, not the one that issued the code.
	settings, err := s.Settings(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return s.rejected(ctx, MsgDisabled), nil
	}
	now := s.now()
	if ok, msg := rec.Usable(now); !ok {
		return s.rejected(ctx, msg), nil
	}
	if total.LessThan(settings.MinOrderAmount) {
		return s.rejected(ctx, MsgBelowMinimum), nil
	}

	discount := settings.Discount(total)
	red := &Redemption{
		ID:             uuid.NewString(),
		CodeID:         rec.ID,
		Code:           rec.Code,
		ContextID:      contextID,
		OrderTotal:     total,
		DiscountAmount: discount,
		ReferrerReward: settings.ReferrerReward(discount),
		CreatedAt:      now,
	}
	if err := s.codes.RecordRedemption(ctx, red); err != nil {
		if errors.Is(err, ErrCodeExhausted) {
			return s.rejected(ctx, MsgExhausted), nil
		}
		return nil, errors.Wrap(err, "record redemption")
	}

	s.lg.Info("Referral code redeemed",
		zap.String("code", rec.Code),
		zap.String("context_id", contextID),
		zap.String("order_total", total.StringFixed(2)),
		zap.String("discount", discount.StringFixed(2)),
		zap.String("referrer_reward", red.ReferrerReward.StringFixed(2)),
	)
	s.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "accepted")))

	return &referral.ValidationResult{
		Success:        true,
		DiscountAmount: discount,
		Message:        MsgValid,
	}, nil
}

// Check reports whether code is currently redeemable without changing it.
func (s *Service) Check(ctx context.Context, code string) (*CodeStatus, error) {
	code = referral.Normalize(code)
	if code == "" {
		return &CodeStatus{Message: MsgCodeRequired}, nil
	}

	rec, err := s.codes.FindCode(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		return &CodeStatus{Message: MsgNotFound}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find referral code")
	}

	ok, msg := rec.Usable(s.now())
	return &CodeStatus{Valid: ok, Message: msg, CustomerName: rec.CustomerName}, nil
}

func (s *Service) rejected(ctx context.Context, msg string) *referral.ValidationResult {
	s.lg.Debug("Referral code rejected", zap.String("reason", msg))
	s.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected")))
	return &referral.ValidationResult{Message: msg}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
