package worker

import (
	"context"
	"time"

	"github.com/campbook/service-reservation/internal/application"
	"go.uber.org/zap"
)

// PayoutRunner completes finished stays and pays providers out.
type PayoutRunner interface {
	RunPayouts(ctx context.Context) (*application.PayoutRunDTO, error)
}

// PayoutSettler is the scheduled payout sweep.
type PayoutSettler struct {
	payouts  PayoutRunner
	interval time.Duration
	logger   *zap.Logger
}

// NewPayoutSettler creates a PayoutSettler.
func NewPayoutSettler(payouts PayoutRunner, interval time.Duration, logger *zap.Logger) *PayoutSettler {
	return &PayoutSettler{payouts: payouts, interval: interval, logger: logger}
}

func (p *PayoutSettler) Name() string            { return "payout-settler" }
func (p *PayoutSettler) Interval() time.Duration { return p.interval }

// RunOnce runs a single payout sweep.
func (p *PayoutSettler) RunOnce(ctx context.Context) error {
	run, err := p.payouts.RunPayouts(ctx)
	if run != nil && (run.Completed > 0 || run.Settled > 0 || run.Skipped > 0) {
		p.logger.Info("payout sweep finished",
			zap.Int("completed", run.Completed),
			zap.Int("settled", run.Settled),
			zap.Int("skipped", run.Skipped),
		)
	}
	return err
}
