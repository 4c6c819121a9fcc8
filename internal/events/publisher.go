package events

import (
	"context"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/campbook/service-reservation/pkg/events"
	"github.com/campbook/service-reservation/pkg/kafka"
	"go.uber.org/zap"
)

const source = "service-reservation"

// EventProducer is the part of kafka.Producer the publisher needs.
type EventProducer interface {
	PublishEvent(ctx context.Context, topic string, ce kafka.CloudEvent) error
}

// Publisher emits booking and payment lifecycle events. Publishing is best
// effort: a failure is logged and never surfaces to the caller.
type Publisher struct {
	producer EventProducer
	logger   *zap.Logger
}

// NewPublisher creates a Publisher on producer.
func NewPublisher(producer EventProducer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

// BookingChanged publishes a booking.* event carrying the booking snapshot.
func (p *Publisher) BookingChanged(ctx context.Context, eventType string, b *booking.Booking) {
	p.publish(ctx, events.TopicBookingEvents, eventType, b.ID().String(), events.BookingEvent{
		BookingID:       b.ID(),
		SiteID:          b.SiteID(),
		ProviderID:      b.ProviderID(),
		RenterID:        b.RenterID(),
		CheckIn:         b.CheckIn(),
		CheckOut:        b.CheckOut(),
		TotalPriceCents: b.TotalPriceCents(),
		Currency:        b.Currency(),
		Status:          string(b.Status()),
		PaymentStatus:   string(b.PaymentStatus()),
		Reason:          b.CancelReason(),
		OccurredAt:      time.Now().UTC(),
	})
}

// PaymentSucceeded publishes payment.succeeded with the revenue split.
func (p *Publisher) PaymentSucceeded(ctx context.Context, pay *payment.Payment, splits []*ledger.Entry) {
	ev := events.PaymentSucceededEvent{
		PaymentID:             pay.ID(),
		BookingID:             pay.BookingID(),
		RenterID:              pay.RenterID(),
		ExternalTransactionID: pay.ExternalTransactionID(),
		AmountCents:           pay.AmountCents(),
		Currency:              pay.Currency(),
		Method:                pay.Method(),
		OccurredAt:            time.Now().UTC(),
	}
	for _, e := range splits {
		switch e.Payee {
		case ledger.PayeePlatform:
			ev.PlatformShareCents = e.AmountCents
		case ledger.PayeeProvider:
			ev.ProviderShareCents = e.AmountCents
		}
	}
	p.publish(ctx, events.TopicPaymentEvents, events.PaymentSucceeded, pay.BookingID().String(), ev)
}

// PaymentRefunded publishes payment.refunded.
func (p *Publisher) PaymentRefunded(ctx context.Context, pay *payment.Payment) {
	p.publish(ctx, events.TopicPaymentEvents, events.PaymentRefunded, pay.BookingID().String(), events.PaymentRefundedEvent{
		PaymentID:    pay.ID(),
		BookingID:    pay.BookingID(),
		RenterID:     pay.RenterID(),
		AmountCents:  pay.AmountCents(),
		Currency:     pay.Currency(),
		RefundReason: pay.RefundReason(),
		OccurredAt:   time.Now().UTC(),
	})
}

// PayoutSettled publishes payout.settled.
func (p *Publisher) PayoutSettled(ctx context.Context, payout *ledger.Entry) {
	p.publish(ctx, events.TopicPaymentEvents, events.PayoutSettled, payout.BookingID.String(), events.PayoutSettledEvent{
		EntryID:     payout.ID,
		BookingID:   payout.BookingID,
		ProviderID:  payout.PayeeID,
		AmountCents: payout.AmountCents,
		OccurredAt:  time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, subject string, data interface{}) {
	ce, err := kafka.NewCloudEvent(source, eventType, data)
	if err != nil {
		p.logger.Error("failed to build cloud event", zap.String("type", eventType), zap.Error(err))
		return
	}
	ce.Subject = subject
	if err := p.producer.PublishEvent(ctx, topic, ce); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("topic", topic),
			zap.String("type", eventType),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
