package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs SweepOnce on a fixed cadence until its context is cancelled.
// The scheduling lives here so the sweep logic itself stays a plain call.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(manager *Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{manager: manager, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.manager.SweepOnce(ctx, time.Now())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("sweep removed expired secrets", zap.Int("count", removed))
			}
		}
	}
}
