package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer cancels pending bookings that outlived the grace period.
type Expirer interface {
	ExpireStale(ctx context.Context, grace time.Duration) (int, error)
}

// ExpiryReaper frees capacity held by bookings that were never paid.
type ExpiryReaper struct {
	expirer  Expirer
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
}

// NewExpiryReaper creates an ExpiryReaper.
func NewExpiryReaper(expirer Expirer, interval, grace time.Duration, logger *zap.Logger) *ExpiryReaper {
	return &ExpiryReaper{expirer: expirer, interval: interval, grace: grace, logger: logger}
}

func (r *ExpiryReaper) Name() string            { return "expiry-reaper" }
func (r *ExpiryReaper) Interval() time.Duration { return r.interval }

// RunOnce expires every stale pending booking.
func (r *ExpiryReaper) RunOnce(ctx context.Context) error {
	n, err := r.expirer.ExpireStale(ctx, r.grace)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("stale bookings expired", zap.Int("count", n))
	}
	return nil
}
