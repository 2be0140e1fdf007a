package maturation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/supergidii/Loans/logger"
)

type Sweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// Scheduler runs the sweep on a fixed interval under a Locker.
type Scheduler struct {
	sweeper  Sweeper
	lock     Locker
	interval time.Duration
	log      *zap.Logger
}

func NewScheduler(sweeper Sweeper, lock Locker, interval time.Duration, log *zap.Logger) *Scheduler {
	if lock == nil {
		lock = &LocalLock{}
	}
	log = logger.OrNop(log)
	return &Scheduler{sweeper: sweeper, lock: lock, interval: interval, log: log}
}

// RunOnce sweeps if the lock is free. ran is false when another sweep holds it.
func (s *Scheduler) RunOnce(ctx context.Context) (res SweepResult, ran bool, err error) {
	unlock, ok := s.lock.TryLock(ctx)
	if !ok {
		s.log.Debug("sweep skipped, lock held")
		return SweepResult{}, false, nil
	}
	defer unlock()
	res, err = s.sweeper.Sweep(ctx)
	return res, true, err
}

// Run sweeps every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("maturation scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("maturation scheduler stopped")
			return
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("maturation sweep failed", zap.Error(err))
			}
		}
	}
}
