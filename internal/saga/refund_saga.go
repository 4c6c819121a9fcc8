package saga

import (
	"context"
	"time"

	"github.com/campbook/service-reservation/internal/adapter"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Clock returns the current time. Tests substitute a fixed one.
type Clock func() time.Time

// RefundSagaService runs the multi-step money reversals.
type RefundSagaService struct {
	repo    payment.PaymentRepository
	gateway adapter.PaymentGateway
	now     Clock
	logger  *zap.Logger
}

// NewRefundSagaService creates a new RefundSagaService.
func NewRefundSagaService(repo payment.PaymentRepository, gateway adapter.PaymentGateway, now Clock, logger *zap.Logger) *RefundSagaService {
	if now == nil {
		now = time.Now
	}
	return &RefundSagaService{repo: repo, gateway: gateway, now: now, logger: logger}
}

// RefundBookingSaga reverses the captured payment of a booking.
//
// prepare_refund moves the payment to refunding under the booking lock, which
// also rejects a booking that already has a payout. reverse_charge asks the
// gateway to return the money. finalize_refund writes the reversals and
// applies the outcome locally. A gateway refusal puts the payment back to
// successful. A failure after the gateway accepted leaves it refunding so that
// a retry resumes at the gateway call, which only refunds what is outstanding.
func (s *RefundSagaService) RefundBookingSaga(ctx context.Context, bookingID uuid.UUID, reason string) (*payment.Payment, error) {
	var (
		plan     payment.RefundPlan
		reversed bool
		refunded *payment.Payment
	)

	sg := NewSaga("refund_booking", s.logger)

	sg.AddStep(SagaStep{
		Name: "prepare_refund",
		Execute: func(ctx context.Context) error {
			var err error
			plan, err = s.repo.PrepareRefund(ctx, bookingID, s.now())
			return err
		},
		Compensate: func(ctx context.Context) error {
			if !plan.Created || reversed {
				return nil
			}
			return s.repo.AbortRefund(ctx, bookingID, s.now())
		},
	})

	sg.AddStep(SagaStep{
		Name: "reverse_charge",
		Execute: func(ctx context.Context) error {
			p := plan.Payment
			if err := s.gateway.ReverseCharge(ctx, p.ExternalTransactionID(), p.AmountCents()); err != nil {
				return domain.NewUpstreamError("reverse charge", err)
			}
			reversed = true
			return nil
		},
	})

	sg.AddStep(SagaStep{
		Name: "finalize_refund",
		Execute: func(ctx context.Context) error {
			var err error
			refunded, err = s.repo.FinalizeRefund(ctx, bookingID, reason, s.now())
			return err
		},
	})

	if err := sg.Execute(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("booking refunded",
		zap.String("booking_id", bookingID.String()),
		zap.String("payment_id", refunded.ID().String()),
		zap.Int64("amount_cents", refunded.AmountCents()),
	)
	return refunded, nil
}

// ReturnChargeSaga gives back a recorded charge that could not settle its
// booking, then marks the payment refunded.
func (s *RefundSagaService) ReturnChargeSaga(ctx context.Context, p *payment.Payment, reason string) error {
	sg := NewSaga("return_charge", s.logger)

	sg.AddStep(SagaStep{
		Name: "reverse_charge",
		Execute: func(ctx context.Context) error {
			if err := s.gateway.ReverseCharge(ctx, p.ExternalTransactionID(), p.AmountCents()); err != nil {
				return domain.NewUpstreamError("reverse charge", err)
			}
			return nil
		},
	})

	sg.AddStep(SagaStep{
		Name: "mark_payment_refunded",
		Execute: func(ctx context.Context) error {
			return s.repo.MarkChargeReturned(ctx, p.ID(), reason, s.now())
		},
	})

	return sg.Execute(ctx)
}
