package negotiation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const sweepLockKey = "bundle_sweeper"

// Locker grants a short exclusive lease so that only one instance runs the
// scheduled sweep at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// Sweepable is anything that can release lapsed reservations
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper runs Sweep on a fixed interval
type Sweeper struct {
	target   Sweepable
	locker   Locker
	interval time.Duration
	leaseTTL time.Duration
	logger   *zap.Logger
}

// NewSweeper builds a periodic sweeper. locker may be nil for single-instance
// deployments.
func NewSweeper(target Sweepable, locker Locker, interval, leaseTTL time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if target == nil {
		return nil, fmt.Errorf("sweep target is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if leaseTTL <= 0 {
		leaseTTL = interval
	}

	return &Sweeper{
		target:   target,
		locker:   locker,
		interval: interval,
		leaseTTL: leaseTTL,
		logger:   logger.Named("sweeper"),
	}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("reservation sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep if the lease can be taken. A pass skipped
// because another instance holds the lease returns 0 and no error.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		unlock, acquired, err := s.locker.TryLock(ctx, sweepLockKey, s.leaseTTL)
		if err != nil {
			return 0, fmt.Errorf("acquiring sweep lease: %w", err)
		}
		if !acquired {
			s.logger.Debug("sweep lease held elsewhere, skipping")
			return 0, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sweep lease", zap.Error(err))
			}
		}()
	}

	expired, err := s.target.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Info("scheduled sweep expired bundles", zap.Int("expired", expired))
	}
	return expired, nil
}
