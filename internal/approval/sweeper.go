package approval

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweepable is implemented by Engine.
type Sweepable interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs Sweep on a fixed interval. Several sweepers may run at once.
type Sweeper struct {
	target   Sweepable
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewSweeper(target Sweepable, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{target: target, interval: interval, log: log, now: time.Now}
}

// Run sweeps once immediately, then every interval, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.target.Sweep(ctx, s.now())
	if err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", zap.Int("expired", n), zap.Error(err))
	}
}
