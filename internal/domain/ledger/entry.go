package ledger

import (
	"fmt"
	"time"

	"github.com/campbook/service-reservation/internal/domain/pricing"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payee receives one side of a booking's revenue.
type Payee string

const (
	PayeePlatform Payee = "platform"
	PayeeProvider Payee = "provider"
)

// Kind classifies ledger movements.
type Kind string

const (
	KindCaptureSplit   Kind = "capture_split"
	KindPayout         Kind = "payout"
	KindRefundReversal Kind = "refund_reversal"
)

// Status of an entry. Capture splits stay pending until paid out or reversed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusReversed  Status = "reversed"
)

var (
	ErrPayoutAlreadySettled = domain.NewConflictError("PAYOUT_ALREADY_SETTLED", "provider payout already settled for this booking")
	ErrRefundInProgress     = domain.NewConflictError("REFUND_IN_PROGRESS", "a refund for this booking is in progress")
	ErrNoProviderShare      = domain.NewConflictError("NO_PROVIDER_SHARE", "booking has no captured provider share")
)

// Entry is one append-only ledger row.
type Entry struct {
	ID             uuid.UUID
	BookingID      uuid.UUID
	Payee          Payee
	PayeeID        *uuid.UUID
	AmountCents    int64
	Kind           Kind
	Status         Status
	IdempotencyKey string
	CreatedAt      time.Time
}

// CaptureKey, ReversalKey and PayoutKey build the idempotency keys that make
// every ledger write safe to repeat.
func CaptureKey(bookingID uuid.UUID, payee Payee) string {
	return fmt.Sprintf("capture:%s:%s", bookingID, payee)
}

func ReversalKey(bookingID uuid.UUID, payee Payee) string {
	return fmt.Sprintf("refund:%s:%s", bookingID, payee)
}

func PayoutKey(bookingID uuid.UUID) string {
	return fmt.Sprintf("payout:%s", bookingID)
}

// CaptureSplit divides a captured amount into the platform share and the
// provider remainder. Both entries start pending.
func CaptureSplit(bookingID, providerID uuid.UUID, amountCents int64, platformPercent decimal.Decimal, now time.Time) []*Entry {
	platform, provider := pricing.SplitShare(amountCents, platformPercent)
	pid := providerID
	return []*Entry{
		{
			ID:             uuid.New(),
			BookingID:      bookingID,
			Payee:          PayeePlatform,
			AmountCents:    platform,
			Kind:           KindCaptureSplit,
			Status:         StatusPending,
			IdempotencyKey: CaptureKey(bookingID, PayeePlatform),
			CreatedAt:      now,
		},
		{
			ID:             uuid.New(),
			BookingID:      bookingID,
			Payee:          PayeeProvider,
			PayeeID:        &pid,
			AmountCents:    provider,
			Kind:           KindCaptureSplit,
			Status:         StatusPending,
			IdempotencyKey: CaptureKey(bookingID, PayeeProvider),
			CreatedAt:      now,
		},
	}
}

// ReversalsFor negates every capture split in entries.
func ReversalsFor(entries []*Entry, status Status, now time.Time) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.Kind != KindCaptureSplit {
			continue
		}
		out = append(out, &Entry{
			ID:             uuid.New(),
			BookingID:      e.BookingID,
			Payee:          e.Payee,
			PayeeID:        e.PayeeID,
			AmountCents:    -e.AmountCents,
			Kind:           KindRefundReversal,
			Status:         status,
			IdempotencyKey: ReversalKey(e.BookingID, e.Payee),
			CreatedAt:      now,
		})
	}
	return out
}

// PayoutFor builds the provider payout from the booking's provider capture split.
func PayoutFor(entries []*Entry, now time.Time) (*Entry, error) {
	for _, e := range entries {
		if e.Kind == KindPayout {
			return nil, ErrPayoutAlreadySettled
		}
		if e.Kind == KindRefundReversal {
			return nil, ErrRefundInProgress
		}
	}
	for _, e := range entries {
		if e.Kind == KindCaptureSplit && e.Payee == PayeeProvider {
			return &Entry{
				ID:             uuid.New(),
				BookingID:      e.BookingID,
				Payee:          PayeeProvider,
				PayeeID:        e.PayeeID,
				AmountCents:    e.AmountCents,
				Kind:           KindPayout,
				Status:         StatusCompleted,
				IdempotencyKey: PayoutKey(e.BookingID),
				CreatedAt:      now,
			}, nil
		}
	}
	return nil, ErrNoProviderShare
}

// NetCaptured sums capture splits and refund reversals. Payouts move money
// that was already captured and are not counted.
func NetCaptured(entries []*Entry) int64 {
	var sum int64
	for _, e := range entries {
		if e.Kind == KindCaptureSplit || e.Kind == KindRefundReversal {
			sum += e.AmountCents
		}
	}
	return sum
}

// HasKind reports whether any entry has kind k.
func HasKind(entries []*Entry, k Kind) bool {
	for _, e := range entries {
		if e.Kind == k {
			return true
		}
	}
	return false
}
