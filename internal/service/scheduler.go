package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"livechat/internal/constants"
	"livechat/internal/ratelimit"
)

// Scheduler periodically sweeps expired auth records and idle rate
// limit buckets.
type Scheduler struct {
	auth         *AuthService
	limiter      *ratelimit.Limiter
	intervalMins int
	sweepIdle    time.Duration
	logger       *logrus.Logger
	stopCh       chan struct{}
}

func NewScheduler(auth *AuthService, limiter *ratelimit.Limiter, intervalMins, sweepIdleMins int, logger *logrus.Logger) *Scheduler {
	if intervalMins <= 0 {
		intervalMins = constants.DefaultCleanupIntervalMins
	}
	if sweepIdleMins <= 0 {
		sweepIdleMins = constants.DefaultBucketSweepIdleMins
	}
	return &Scheduler{
		auth:         auth,
		limiter:      limiter,
		intervalMins: intervalMins,
		sweepIdle:    time.Duration(sweepIdleMins) * time.Minute,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalMins) * time.Minute)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	removed, err := s.auth.Cleanup(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled auth cleanup failed")
	} else if removed > 0 {
		s.logger.WithField("removed", removed).Info("Cleaned up expired auth records")
	}

	if s.limiter != nil {
		if swept := s.limiter.Sweep(s.sweepIdle); swept > 0 {
			s.logger.WithField("buckets", swept).Debug("Swept idle rate limit buckets")
		}
	}
}
