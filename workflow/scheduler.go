package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// DailyRunner drives the retention and staging sweeps on a fixed interval,
// outside request handling. A redis lock keeps overlapping instances (or
// multiple replicas) from running the same pass twice; failing to obtain
// the lock just skips the tick.
type DailyRunner struct {
	Interval time.Duration
	LockTTL  time.Duration
	Logger   *logrus.Logger
	Jobs     []func(ctx context.Context, now time.Time)
}

func NewDailyRunner(logger *logrus.Logger, jobs ...func(ctx context.Context, now time.Time)) *DailyRunner {
	return &DailyRunner{
		Interval: 24 * time.Hour,
		LockTTL:  time.Hour,
		Logger:   logger,
		Jobs:     jobs,
	}
}

const sweepLockKey = "photoid:sweep"

func (r *DailyRunner) Run(ctx context.Context) {
	// run once shortly after startup, then on the daily tick
	startup := time.NewTimer(time.Minute)
	defer startup.Stop()
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-startup.C:
			r.runOnce(ctx)
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *DailyRunner) runOnce(ctx context.Context) {
	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, sweepLockKey, r.LockTTL, nil)
		if err == redislock.ErrNotObtained {
			r.Logger.WithFields(logrus.Fields{"module": "scheduler"}).Info("sweep lock held elsewhere; skipping")
			return
		} else if err != nil {
			config.LogError(r.Logger, "scheduler", "runOnce", "obtaining sweep lock", nil, err)
			return
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	now := time.Now()
	for _, job := range r.Jobs {
		job(ctx, now)
	}
}
