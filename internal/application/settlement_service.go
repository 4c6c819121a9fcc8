package application

import (
	"context"
	"errors"
	"time"

	"github.com/campbook/service-reservation/internal/adapter"
	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/campbook/service-reservation/internal/saga"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/campbook/service-reservation/pkg/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Reasons recorded on charges that were returned instead of settling a booking.
const (
	lateCaptureReason    = "booking cancelled before payment was captured"
	alreadyPaidReason    = "booking already paid"
	amountMismatchReason = "captured amount does not match the booking price"
	notPayableReason     = "booking is not awaiting payment"
	returnedChargeReason = "charge could not settle its booking"
)

// InitiatePaymentRequest is the DTO for starting checkout for a booking.
type InitiatePaymentRequest struct {
	BookingID uuid.UUID `json:"booking_id" binding:"required"`
}

// RefundPaymentRequest optionally carries a refund reason.
type RefundPaymentRequest struct {
	Reason string `json:"reason"`
}

// CheckoutDTO is the client handle for paying a booking at the gateway.
type CheckoutDTO struct {
	BookingID   uuid.UUID `json:"booking_id"`
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

// PaymentDTO is the API response DTO for payment data.
type PaymentDTO struct {
	ID                    uuid.UUID  `json:"id"`
	BookingID             uuid.UUID  `json:"booking_id"`
	RenterID              uuid.UUID  `json:"renter_id"`
	ExternalTransactionID string     `json:"external_transaction_id"`
	Status                string     `json:"status"`
	AmountCents           int64      `json:"amount_cents"`
	Currency              string     `json:"currency"`
	PaymentMethod         string     `json:"payment_method,omitempty"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`
	RefundReason          string     `json:"refund_reason,omitempty"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SettlementOutcome is the recorded result of a gateway event. Replayed is set
// when the event had already been applied. Returned is set when the charge
// could not settle the booking and was given back.
type SettlementOutcome struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	BookingID     uuid.UUID `json:"booking_id"`
	PaymentStatus string    `json:"payment_status"`
	BookingStatus string    `json:"booking_status"`
	Replayed      bool      `json:"replayed"`
	Returned      bool      `json:"returned"`
}

// SettlementService turns gateway captures into confirmed bookings and ledger
// splits, and reverses them on refund.
type SettlementService struct {
	bookings        booking.Repository
	payments        payment.PaymentRepository
	gateway         adapter.PaymentGateway
	refunds         *saga.RefundSagaService
	events          EventPublisher
	platformPercent decimal.Decimal
	now             Clock
	logger          *zap.Logger
}

// NewSettlementService creates a new SettlementService. platformPercent is the
// platform's share of every capture, in percent.
func NewSettlementService(
	bookings booking.Repository,
	payments payment.PaymentRepository,
	gateway adapter.PaymentGateway,
	refunds *saga.RefundSagaService,
	events EventPublisher,
	platformPercent decimal.Decimal,
	now Clock,
	logger *zap.Logger,
) *SettlementService {
	if now == nil {
		now = systemClock
	}
	return &SettlementService{
		bookings:        bookings,
		payments:        payments,
		gateway:         gateway,
		refunds:         refunds,
		events:          events,
		platformPercent: platformPercent,
		now:             now,
		logger:          logger,
	}
}

// InitiatePayment opens a gateway checkout for a pending booking. The booking
// itself is not changed.
func (s *SettlementService) InitiatePayment(ctx context.Context, actor auth.Actor, req InitiatePaymentRequest) (*CheckoutDTO, error) {
	b, err := s.bookings.FindByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, b, canPayBooking); err != nil {
		return nil, err
	}
	if err := b.CheckPayable(); err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, b.TotalPriceCents(), b.Currency(), b.ID().String())
	if err != nil {
		s.logger.Error("checkout session failed", zap.String("booking_id", b.ID().String()), zap.Error(err))
		return nil, domain.NewUpstreamError("create checkout session", err)
	}

	s.logger.Info("payment initiated",
		zap.String("booking_id", b.ID().String()),
		zap.String("session_id", session.SessionID),
		zap.Int64("amount_cents", b.TotalPriceCents()),
	)
	return &CheckoutDTO{
		BookingID:   b.ID(),
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		AmountCents: b.TotalPriceCents(),
		Currency:    b.Currency(),
	}, nil
}

// HandleWebhook authenticates a raw gateway notification and settles it.
func (s *SettlementService) HandleWebhook(ctx context.Context, raw []byte, signature string) (*SettlementOutcome, error) {
	ev, err := s.gateway.VerifyEvent(ctx, raw, signature)
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.NewValidationError("INVALID_EVENT", err.Error())
	}
	return s.HandlePaymentEvent(ctx, ev)
}

// HandlePaymentEvent applies a verified gateway event exactly once. A repeated
// delivery returns the recorded outcome and completes anything a previous
// attempt left unfinished.
func (s *SettlementService) HandlePaymentEvent(ctx context.Context, ev adapter.NormalizedEvent) (*SettlementOutcome, error) {
	ctx, span := tracer.Start(ctx, "SettlementService.HandlePaymentEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("external_transaction_id", ev.ExternalTransactionID),
		attribute.String("booking_id", ev.BookingID.String()),
	)

	if ev.ExternalTransactionID == "" {
		return nil, domain.NewValidationError("INVALID_EVENT", "event has no transaction id")
	}

	existing, err := s.payments.FindByExternalID(ctx, ev.ExternalTransactionID)
	switch {
	case err == nil:
		return s.replay(ctx, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if ev.Status != adapter.EventPaid {
		return nil, payment.ErrEventNotPaid
	}

	b, err := s.bookings.FindByID(ctx, ev.BookingID)
	if err != nil {
		return nil, err
	}
	if reason := chargeProblem(b, ev.AmountCents); reason != "" {
		return s.returnCharge(ctx, returnedChargeFor(ev, b, s.now()), reason)
	}

	p := payment.NewSuccessfulPayment(ev.ExternalTransactionID, b.ID(), b.RenterID(), ev.AmountCents, ev.Currency, ev.Method, s.now())
	splits := ledger.CaptureSplit(b.ID(), b.ProviderID(), p.AmountCents(), s.platformPercent, p.CreatedAt())
	err = s.payments.Capture(ctx, payment.CaptureCommand{Payment: p, Entries: splits, ConfirmBooking: true})
	switch {
	case err == nil:
		s.logger.Info("payment captured",
			zap.String("booking_id", b.ID().String()),
			zap.String("payment_id", p.ID().String()),
			zap.Int64("amount_cents", p.AmountCents()),
		)
		s.events.PaymentSucceeded(ctx, p, splits)
		s.announceBooking(ctx, b.ID(), events.BookingConfirmed)
		return outcomeFor(p, booking.StatusConfirmed, false), nil
	case errors.Is(err, payment.ErrDuplicatePayment):
		return s.afterDuplicate(ctx, ev, b)
	case errors.Is(err, booking.ErrBookingNotPending):
		// Cancelled or paid between the read and the capture.
		if b, err = s.bookings.FindByID(ctx, ev.BookingID); err != nil {
			return nil, err
		}
		reason := chargeProblem(b, ev.AmountCents)
		if reason == "" {
			reason = lateCaptureReason
		}
		return s.returnCharge(ctx, returnedChargeFor(ev, b, s.now()), reason)
	default:
		return nil, err
	}
}

// returnCharge records money that cannot settle its booking and gives it back.
// The payment row is written before the gateway reversal so the money is never
// untracked.
func (s *SettlementService) returnCharge(ctx context.Context, p *payment.Payment, reason string) (*SettlementOutcome, error) {
	if err := s.payments.Capture(ctx, payment.CaptureCommand{Payment: p}); err != nil {
		if !errors.Is(err, payment.ErrDuplicatePayment) {
			return nil, err
		}
		existing, err := s.payments.FindByExternalID(ctx, p.ExternalTransactionID())
		if err != nil {
			return nil, err
		}
		return s.replay(ctx, existing)
	}
	s.logger.Warn("charge cannot settle its booking, returning it",
		zap.String("booking_id", p.BookingID().String()),
		zap.String("payment_id", p.ID().String()),
		zap.Int64("amount_cents", p.AmountCents()),
		zap.String("reason", reason),
	)
	if err := s.refunds.ReturnChargeSaga(ctx, p, reason); err != nil {
		return nil, err
	}
	return s.outcomeFromStore(ctx, p.ExternalTransactionID(), false)
}

// replay converges the state recorded for an already seen transaction.
func (s *SettlementService) replay(ctx context.Context, p *payment.Payment) (*SettlementOutcome, error) {
	b, err := s.bookings.FindByID(ctx, p.BookingID())
	if err != nil {
		return nil, err
	}

	if p.Status() == payment.StatusSuccessful {
		switch {
		case p.Returned():
			reason := chargeProblem(b, p.AmountCents())
			if reason == "" {
				reason = returnedChargeReason
			}
			if err := s.refunds.ReturnChargeSaga(ctx, p, reason); err != nil {
				return nil, err
			}
		case b.PaymentStatus() != booking.PaymentRefunded:
			splits := ledger.CaptureSplit(b.ID(), b.ProviderID(), p.AmountCents(), s.platformPercent, p.CreatedAt())
			changed, err := s.payments.ConvergeCapture(ctx, b.ID(), splits)
			if err != nil {
				return nil, err
			}
			if changed {
				s.logger.Warn("settlement converged on replay", zap.String("booking_id", b.ID().String()))
			}
		}
	}

	s.logger.Info("payment event replayed",
		zap.String("external_transaction_id", p.ExternalTransactionID()),
		zap.String("booking_id", b.ID().String()),
	)
	return s.outcomeFromStore(ctx, p.ExternalTransactionID(), true)
}

// afterDuplicate resolves a capture that lost a uniqueness race. Either this
// transaction was recorded concurrently, or another charge already settled
// the booking and this one has to be returned.
func (s *SettlementService) afterDuplicate(ctx context.Context, ev adapter.NormalizedEvent, b *booking.Booking) (*SettlementOutcome, error) {
	existing, err := s.payments.FindByExternalID(ctx, ev.ExternalTransactionID)
	switch {
	case err == nil:
		return s.replay(ctx, existing)
	case errors.Is(err, domain.ErrNotFound):
		return s.returnCharge(ctx, returnedChargeFor(ev, b, s.now()), alreadyPaidReason)
	default:
		return nil, err
	}
}

func (s *SettlementService) outcomeFromStore(ctx context.Context, externalTransactionID string, replayed bool) (*SettlementOutcome, error) {
	p, err := s.payments.FindByExternalID(ctx, externalTransactionID)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.FindByID(ctx, p.BookingID())
	if err != nil {
		return nil, err
	}
	return outcomeFor(p, b.Status(), replayed), nil
}

// RefundBooking reverses the captured payment of a booking.
func (s *SettlementService) RefundBooking(ctx context.Context, bookingID uuid.UUID, reason string) error {
	ctx, span := tracer.Start(ctx, "SettlementService.RefundBooking")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID.String()))

	if reason == "" {
		reason = "refund requested"
	}
	p, err := s.refunds.RefundBookingSaga(ctx, bookingID, reason)
	if err != nil {
		s.logger.Error("refund failed", zap.String("booking_id", bookingID.String()), zap.Error(err))
		return err
	}
	s.events.PaymentRefunded(ctx, p)
	return nil
}

// RefundPayment is the admin refund: it reverses the payment and reports the
// refunded payment.
func (s *SettlementService) RefundPayment(ctx context.Context, bookingID uuid.UUID, reason string) (*PaymentDTO, error) {
	if err := s.RefundBooking(ctx, bookingID, reason); err != nil {
		return nil, err
	}
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status() == booking.StatusCancelled {
		s.events.BookingChanged(ctx, events.BookingCancelled, b)
	}
	p, err := s.payments.FindByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	dto := toPaymentDTO(p)
	return &dto, nil
}

// ListMyPayments returns a page of the actor's payments.
func (s *SettlementService) ListMyPayments(ctx context.Context, actor auth.Actor, page, limit int) ([]PaymentDTO, int64, error) {
	page, limit = pageBounds(page, limit)
	payments, total, err := s.payments.ListByRenter(ctx, actor.UserID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos, total, nil
}

func (s *SettlementService) announceBooking(ctx context.Context, id uuid.UUID, eventType string) {
	b, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		s.logger.Warn("booking reload for event failed", zap.String("booking_id", id.String()), zap.Error(err))
		return
	}
	s.events.BookingChanged(ctx, eventType, b)
}

func outcomeFor(p *payment.Payment, status booking.Status, replayed bool) *SettlementOutcome {
	return &SettlementOutcome{
		PaymentID:     p.ID(),
		BookingID:     p.BookingID(),
		PaymentStatus: string(p.Status()),
		BookingStatus: string(status),
		Replayed:      replayed,
		Returned:      p.Returned(),
	}
}

// chargeProblem names why a paid charge cannot settle the booking, or returns
// the empty string when it can.
func chargeProblem(b *booking.Booking, amountCents int64) string {
	switch {
	case b.PaymentStatus() != booking.PaymentUnpaid:
		return alreadyPaidReason
	case b.Status() == booking.StatusCancelled:
		return lateCaptureReason
	case b.Status() != booking.StatusPending:
		return notPayableReason
	case amountCents != b.TotalPriceCents():
		return amountMismatchReason
	}
	return ""
}

func returnedChargeFor(ev adapter.NormalizedEvent, b *booking.Booking, now time.Time) *payment.Payment {
	return payment.NewReturnedCharge(ev.ExternalTransactionID, b.ID(), b.RenterID(), ev.AmountCents, ev.Currency, ev.Method, now)
}

// toPaymentDTO maps a domain Payment to a PaymentDTO.
func toPaymentDTO(p *payment.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                    p.ID(),
		BookingID:             p.BookingID(),
		RenterID:              p.RenterID(),
		ExternalTransactionID: p.ExternalTransactionID(),
		Status:                string(p.Status()),
		AmountCents:           p.AmountCents(),
		Currency:              p.Currency(),
		PaymentMethod:         p.Method(),
		RefundedAt:            p.RefundedAt(),
		RefundReason:          p.RefundReason(),
		Version:               p.Version(),
		CreatedAt:             p.CreatedAt(),
		UpdatedAt:             p.UpdatedAt(),
	}
}

