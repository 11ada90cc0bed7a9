package authority

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Sweeper periodically deactivates expired codes so that listings and
// reports do not show them as active.
type Sweeper struct {
	codes    CodeStore
	schedule string
	now      func() time.Time
	lg       *zap.Logger
	cron     *cron.Cron
}

// NewSweeper creates a Sweeper running on a cron schedule such as
// "@every 1h".
func NewSweeper(codes CodeStore, schedule string, lg *zap.Logger) (*Sweeper, error) {
	if _, err := cron.Parse(schedule); err != nil {
		return nil, errors.Wrapf(err, "parse schedule %q", schedule)
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Sweeper{
		codes:    codes,
		schedule: schedule,
		now:      time.Now,
		lg:       lg,
		cron:     cron.New(),
	}, nil
}

// Sweep deactivates the codes expired by now.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.codes.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "deactivate expired codes")
	}
	if n > 0 {
		s.lg.Info("Expired referral codes deactivated", zap.Int64("count", n))
	}
	return n, nil
}

// Start schedules the sweep. The jobs use ctx and stop doing work once it is
// done; call Stop to remove the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if err := s.cron.AddFunc(s.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil {
			s.lg.Error("Sweep failed", zap.Error(err))
		}
	}); err != nil {
		return errors.Wrap(err, "schedule sweep")
	}
	s.cron.Start()
	s.lg.Info("Sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop stops the scheduler.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}
