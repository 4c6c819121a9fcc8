package application

import (
	"context"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/campbook/service-reservation/internal/application")

// EventPublisher emits integration events. Implementations are best effort
// and never fail the caller.
type EventPublisher interface {
	BookingChanged(ctx context.Context, eventType string, b *booking.Booking)
	PaymentSucceeded(ctx context.Context, p *payment.Payment, splits []*ledger.Entry)
	PaymentRefunded(ctx context.Context, p *payment.Payment)
	PayoutSettled(ctx context.Context, payout *ledger.Entry)
}

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
