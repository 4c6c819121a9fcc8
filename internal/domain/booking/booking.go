package booking

import (
	"time"

	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// PaymentStatus tracks money for a booking. Only settlement changes it.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrInvalidRange      = domain.NewValidationError("INVALID_RANGE", "check-in must not be in the past and must be before check-out")
	ErrCapacityExceeded  = domain.NewConflictError("CAPACITY_EXCEEDED", "no capacity left for the requested nights")
	ErrBookingNotFound   = &domain.DomainError{Err: domain.ErrNotFound, Code: "BOOKING_NOT_FOUND", Message: "booking not found"}
	ErrBookingNotPayable = domain.NewConflictError("BOOKING_NOT_PAYABLE", "booking can no longer be paid")
	ErrAlreadyPaid       = domain.NewConflictError("ALREADY_PAID", "booking is already paid")
	ErrNotCompletable    = domain.NewConflictError("BOOKING_NOT_COMPLETABLE", "only confirmed bookings whose stay has started can be completed")
	ErrBookingNotPending = domain.NewConflictError("BOOKING_NOT_PENDING", "booking is no longer awaiting payment")

	ErrBookingNotCompleted = domain.NewConflictError("BOOKING_NOT_COMPLETED", "booking must be completed before the provider is paid")
	ErrBookingNotPaid      = domain.NewConflictError("BOOKING_NOT_PAID", "booking has no captured payment to pay out")
)

// Booking is the aggregate root for a reservation of a site over a range of nights.
type Booking struct {
	id              uuid.UUID
	siteID          uuid.UUID
	providerID      uuid.UUID
	renterID        uuid.UUID
	checkIn         time.Time
	checkOut        time.Time
	totalPriceCents int64
	currency        string
	status          Status
	paymentStatus   PaymentStatus
	cancelReason    string
	version         int64
	createdAt       time.Time
	updatedAt       time.Time
}

// ValidateRange checks that [checkIn, checkOut) covers at least one night and
// does not start before today.
func ValidateRange(checkIn, checkOut, now time.Time) error {
	in, out := Day(checkIn), Day(checkOut)
	if !in.Before(out) || in.Before(Day(now)) {
		return ErrInvalidRange
	}
	return nil
}

// NewBooking creates a pending, unpaid booking.
func NewBooking(siteID, providerID, renterID uuid.UUID, checkIn, checkOut time.Time, totalPriceCents int64, currency string, now time.Time) (*Booking, error) {
	if err := ValidateRange(checkIn, checkOut, now); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Booking{
		id:              uuid.New(),
		siteID:          siteID,
		providerID:      providerID,
		renterID:        renterID,
		checkIn:         Day(checkIn),
		checkOut:        Day(checkOut),
		totalPriceCents: totalPriceCents,
		currency:        currency,
		status:          StatusPending,
		paymentStatus:   PaymentUnpaid,
		version:         1,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

func (b *Booking) ID() uuid.UUID                { return b.id }
func (b *Booking) SiteID() uuid.UUID            { return b.siteID }
func (b *Booking) ProviderID() uuid.UUID        { return b.providerID }
func (b *Booking) RenterID() uuid.UUID          { return b.renterID }
func (b *Booking) CheckIn() time.Time           { return b.checkIn }
func (b *Booking) CheckOut() time.Time          { return b.checkOut }
func (b *Booking) TotalPriceCents() int64       { return b.totalPriceCents }
func (b *Booking) Currency() string             { return b.currency }
func (b *Booking) Status() Status               { return b.status }
func (b *Booking) PaymentStatus() PaymentStatus { return b.paymentStatus }
func (b *Booking) CancelReason() string         { return b.cancelReason }
func (b *Booking) Version() int64               { return b.version }
func (b *Booking) CreatedAt() time.Time         { return b.createdAt }
func (b *Booking) UpdatedAt() time.Time         { return b.updatedAt }

// Nights returns every night the booking occupies, ascending.
func (b *Booking) Nights() []time.Time { return NightsBetween(b.checkIn, b.checkOut) }

// IsTerminal reports whether no further lifecycle change is possible.
func (b *Booking) IsTerminal() bool {
	return b.status == StatusCancelled || b.status == StatusCompleted
}

// HoldsCapacity reports whether the booking counts against its nights.
func (b *Booking) HoldsCapacity() bool {
	return b.status == StatusPending || b.status == StatusConfirmed
}

// CheckPayable returns why the booking cannot be paid, if anything.
func (b *Booking) CheckPayable() error {
	if b.paymentStatus != PaymentUnpaid {
		return ErrAlreadyPaid
	}
	if b.status != StatusPending {
		return ErrBookingNotPayable
	}
	return nil
}

// Confirm records a captured payment.
func (b *Booking) Confirm() error {
	if b.status != StatusPending || b.paymentStatus != PaymentUnpaid {
		return ErrBookingNotPending
	}
	b.status = StatusConfirmed
	b.paymentStatus = PaymentPaid
	b.touch()
	return nil
}

// Cancel moves a live booking to cancelled. It returns false when the
// booking was already terminal, which is not an error.
func (b *Booking) Cancel(reason string) bool {
	if !b.HoldsCapacity() {
		return false
	}
	b.status = StatusCancelled
	b.cancelReason = reason
	b.touch()
	return true
}

// MarkRefunded records that the captured payment was returned. A live booking
// is cancelled at the same time.
func (b *Booking) MarkRefunded(reason string) error {
	if b.paymentStatus != PaymentPaid && b.status != StatusCancelled {
		return domain.NewInvalidStateError(string(b.paymentStatus), string(PaymentRefunded))
	}
	if b.HoldsCapacity() {
		b.status = StatusCancelled
		b.cancelReason = reason
	}
	b.paymentStatus = PaymentRefunded
	b.touch()
	return nil
}

// Complete marks a confirmed booking as completed once its stay has begun.
func (b *Booking) Complete(now time.Time) error {
	if b.status != StatusConfirmed || b.paymentStatus != PaymentPaid || Day(now).Before(b.checkIn) {
		return ErrNotCompletable
	}
	b.status = StatusCompleted
	b.touch()
	return nil
}

func (b *Booking) touch() {
	b.version++
	b.updatedAt = time.Now().UTC()
}

// Reconstitute rebuilds a Booking from persisted data.
func Reconstitute(
	id, siteID, providerID, renterID uuid.UUID,
	checkIn, checkOut time.Time,
	totalPriceCents int64,
	currency string,
	status Status,
	paymentStatus PaymentStatus,
	cancelReason string,
	version int64,
	createdAt, updatedAt time.Time,
) *Booking {
	return &Booking{
		id:              id,
		siteID:          siteID,
		providerID:      providerID,
		renterID:        renterID,
		checkIn:         Day(checkIn),
		checkOut:        Day(checkOut),
		totalPriceCents: totalPriceCents,
		currency:        currency,
		status:          status,
		paymentStatus:   paymentStatus,
		cancelReason:    cancelReason,
		version:         version,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NightsBetween lists the nights in [checkIn, checkOut).
func NightsBetween(checkIn, checkOut time.Time) []time.Time {
	var nights []time.Time
	for d := Day(checkIn); d.Before(Day(checkOut)); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d)
	}
	return nights
}
