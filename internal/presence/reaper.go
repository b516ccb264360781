package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically removes viewers whose lease lapsed.
type Reaper struct {
	tracker  *Tracker
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper creates a reaper running every interval.
func NewReaper(tracker *Tracker, interval time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = tracker.cfg.LeaseTTL / 3
	}
	return &Reaper{tracker: tracker, interval: interval, logger: logger}
}

// Run reaps until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("presence reaper started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("presence reaper stopped")
			return
		case <-ticker.C:
			n, err := r.tracker.ReapExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("reap expired viewers", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				r.logger.Info("reaped expired viewers", zap.Int("count", n))
			}
		}
	}
}
