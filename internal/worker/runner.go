package worker

import (
	"context"
	"errors"
	"time"

	"github.com/campbook/service-reservation/internal/lease"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	RunOnce(ctx context.Context) error
}

// Runner ticks every registered job on its own interval. When a Locker is
// set, each tick runs under a lease named after the job so that only one
// instance in the fleet does the work.
type Runner struct {
	jobs   []Job
	locker *lease.Locker
	logger *zap.Logger
}

// NewRunner creates a Runner. locker may be nil for single-instance setups.
func NewRunner(locker *lease.Locker, logger *zap.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, locker: locker, logger: logger}
}

// Run blocks until ctx is cancelled. A failing tick is logged and retried on
// the next interval.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		g.Go(func() error {
			r.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	r.logger.Info("worker started", zap.String("job", job.Name()), zap.Duration("interval", job.Interval()))
	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	r.tick(ctx, job)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker stopped", zap.String("job", job.Name()))
			return
		case <-ticker.C:
			r.tick(ctx, job)
		}
	}
}

func (r *Runner) tick(ctx context.Context, job Job) {
	var err error
	if r.locker == nil {
		err = job.RunOnce(ctx)
	} else {
		err = r.locker.WithLease(ctx, job.Name(), leaseTTL(job.Interval()), job.RunOnce)
	}
	switch {
	case err == nil:
	case errors.Is(err, lease.ErrNotHeld):
		r.logger.Debug("job skipped, lease held elsewhere", zap.String("job", job.Name()))
	case ctx.Err() != nil:
	default:
		r.logger.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
	}
}

// leaseTTL bounds how long a crashed holder can block the job.
func leaseTTL(interval time.Duration) time.Duration {
	const floor = 30 * time.Second
	if interval < floor {
		return floor
	}
	return interval
}
