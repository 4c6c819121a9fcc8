package payment

import (
	"time"

	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/google/uuid"
)

// Status represents the state of a captured payment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	// StatusRefunding marks a refund the gateway has been asked for but that
	// is not yet applied locally. Payouts are blocked while it is set.
	StatusRefunding Status = "refunding"
	StatusRefunded  Status = "refunded"
)

var (
	ErrPaymentNotFound  = &domain.DomainError{Err: domain.ErrNotFound, Code: "PAYMENT_NOT_FOUND", Message: "no successful payment for this booking"}
	ErrAlreadyRefunded  = domain.NewConflictError("ALREADY_REFUNDED", "payment is already refunded")
	ErrEventNotPaid     = domain.NewValidationError("EVENT_NOT_PAID", "gateway event does not report a completed payment")
	ErrInvalidSignature = &domain.DomainError{Err: domain.ErrUnauthorized, Code: "INVALID_SIGNATURE", Message: "webhook signature verification failed"}
	ErrDuplicatePayment = domain.NewConflictError("DUPLICATE_PAYMENT", "a payment for this transaction or booking already exists")
)

// Payment is the aggregate root for a gateway capture against one booking.
type Payment struct {
	id                    uuid.UUID
	externalTransactionID string
	bookingID             uuid.UUID
	renterID              uuid.UUID
	amountCents           int64
	currency              string
	method                string
	status                Status
	returned              bool
	refundedAt            *time.Time
	refundReason          string
	version               int64
	createdAt             time.Time
	updatedAt             time.Time
}

// NewSuccessfulPayment records a capture reported by the gateway.
func NewSuccessfulPayment(externalTransactionID string, bookingID, renterID uuid.UUID, amountCents int64, currency, method string, now time.Time) *Payment {
	return newCapture(externalTransactionID, bookingID, renterID, amountCents, currency, method, false, now)
}

// NewReturnedCharge records a capture that cannot settle its booking and has
// to be given back: the booking was cancelled or already paid, or the amount
// is wrong. It never counts as the booking's payment.
func NewReturnedCharge(externalTransactionID string, bookingID, renterID uuid.UUID, amountCents int64, currency, method string, now time.Time) *Payment {
	return newCapture(externalTransactionID, bookingID, renterID, amountCents, currency, method, true, now)
}

func newCapture(externalTransactionID string, bookingID, renterID uuid.UUID, amountCents int64, currency, method string, returned bool, now time.Time) *Payment {
	now = now.UTC()
	return &Payment{
		id:                    uuid.New(),
		externalTransactionID: externalTransactionID,
		bookingID:             bookingID,
		renterID:              renterID,
		amountCents:           amountCents,
		currency:              currency,
		method:                method,
		status:                StatusSuccessful,
		returned:              returned,
		version:               1,
		createdAt:             now,
		updatedAt:             now,
	}
}

// --- Getters ---

func (p *Payment) ID() uuid.UUID                 { return p.id }
func (p *Payment) ExternalTransactionID() string { return p.externalTransactionID }
func (p *Payment) BookingID() uuid.UUID          { return p.bookingID }
func (p *Payment) RenterID() uuid.UUID           { return p.renterID }
func (p *Payment) AmountCents() int64            { return p.amountCents }
func (p *Payment) Currency() string              { return p.currency }
func (p *Payment) Method() string                { return p.method }
func (p *Payment) Status() Status                { return p.status }
func (p *Payment) Returned() bool                { return p.returned }
func (p *Payment) RefundedAt() *time.Time        { return p.refundedAt }
func (p *Payment) RefundReason() string          { return p.refundReason }
func (p *Payment) Version() int64                { return p.version }
func (p *Payment) CreatedAt() time.Time          { return p.createdAt }
func (p *Payment) UpdatedAt() time.Time          { return p.updatedAt }

// CheckRefundable reports why the payment cannot be refunded, if anything.
// A refund that was started but not finished may be resumed.
func (p *Payment) CheckRefundable() error {
	switch p.status {
	case StatusSuccessful, StatusRefunding:
		return nil
	case StatusRefunded:
		return ErrAlreadyRefunded
	default:
		return ErrPaymentNotFound
	}
}

// BeginRefund marks the payment as being refunded. It reports false when a
// refund was already in flight.
func (p *Payment) BeginRefund(now time.Time) (bool, error) {
	if err := p.CheckRefundable(); err != nil {
		return false, err
	}
	if p.status == StatusRefunding {
		return false, nil
	}
	p.status = StatusRefunding
	p.bump(now)
	return true, nil
}

// AbortRefund puts an in-flight refund back to successful after the gateway
// refused it.
func (p *Payment) AbortRefund(now time.Time) bool {
	if p.status != StatusRefunding {
		return false
	}
	p.status = StatusSuccessful
	p.bump(now)
	return true
}

// Refund transitions a successful or refunding payment to refunded.
func (p *Payment) Refund(reason string, now time.Time) error {
	if err := p.CheckRefundable(); err != nil {
		return err
	}
	now = now.UTC()
	p.status = StatusRefunded
	p.refundedAt = &now
	p.refundReason = reason
	p.bump(now)
	return nil
}

func (p *Payment) bump(now time.Time) {
	p.version++
	p.updatedAt = now.UTC()
}

// Reconstitute rebuilds a Payment from persisted data.
func Reconstitute(
	id uuid.UUID,
	externalTransactionID string,
	bookingID, renterID uuid.UUID,
	amountCents int64,
	currency, method string,
	status Status,
	returned bool,
	refundedAt *time.Time,
	refundReason string,
	version int64,
	createdAt, updatedAt time.Time,
) *Payment {
	return &Payment{
		id:                    id,
		externalTransactionID: externalTransactionID,
		bookingID:             bookingID,
		renterID:              renterID,
		amountCents:           amountCents,
		currency:              currency,
		method:                method,
		status:                status,
		returned:              returned,
		refundedAt:            refundedAt,
		refundReason:          refundReason,
		version:               version,
		createdAt:             createdAt,
		updatedAt:             updatedAt,
	}
}
