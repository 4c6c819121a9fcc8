package payment

import (
	"context"
	"time"

	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/google/uuid"
)

// CaptureCommand is everything written when a paid gateway event is accepted.
type CaptureCommand struct {
	Payment *Payment
	// Entries are the capture splits. Empty for a returned charge.
	Entries []*ledger.Entry
	// ConfirmBooking moves the booking from pending/unpaid to confirmed/paid.
	ConfirmBooking bool
}

// RefundPlan is the outcome of the first refund step.
type RefundPlan struct {
	Payment *Payment
	// Created is false when an earlier attempt had already started the refund.
	Created bool
}

// PaymentRepository defines persistence for payments and the settlement
// transactions that span payments, bookings and the ledger.
type PaymentRepository interface {
	// FindByExternalID retrieves a payment by gateway transaction id.
	FindByExternalID(ctx context.Context, externalTransactionID string) (*Payment, error)

	// FindByBookingID retrieves the payment that settled a booking. Returned
	// charges are not considered.
	FindByBookingID(ctx context.Context, bookingID uuid.UUID) (*Payment, error)

	// ListByRenter returns a page of a renter's payments, newest first.
	ListByRenter(ctx context.Context, renterID uuid.UUID, page, limit int) ([]*Payment, int64, error)

	// Capture writes the payment, the optional booking confirmation and the
	// capture splits in one transaction. It fails with ErrDuplicatePayment if
	// the transaction id is known or a settling payment for the booking
	// already exists, and with
	// booking.ErrBookingNotPending if confirmation was requested but the
	// booking is no longer pending and unpaid.
	Capture(ctx context.Context, cmd CaptureCommand) error

	// ConvergeCapture re-applies the confirmation and any missing capture
	// splits for an already recorded payment. It reports whether anything changed.
	ConvergeCapture(ctx context.Context, bookingID uuid.UUID, entries []*ledger.Entry) (bool, error)

	// MarkChargeReturned records that a returned charge was given back to the renter.
	MarkChargeReturned(ctx context.Context, paymentID uuid.UUID, reason string, now time.Time) error

	// PrepareRefund locks the booking, validates that its payment can be
	// refunded and that no payout exists, and moves the payment to refunding.
	// No ledger rows are written until the gateway has accepted the refund.
	PrepareRefund(ctx context.Context, bookingID uuid.UUID, now time.Time) (RefundPlan, error)

	// AbortRefund moves a refunding payment back to successful.
	AbortRefund(ctx context.Context, bookingID uuid.UUID, now time.Time) error

	// FinalizeRefund marks the payment refunded, cancels the booking and
	// releases its nights if still live, writes the completed reversals and
	// marks the capture splits reversed, in one transaction.
	FinalizeRefund(ctx context.Context, bookingID uuid.UUID, reason string, now time.Time) (*Payment, error)
}
