package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter selects entries for the admin ledger listing.
type Filter struct {
	BookingID *uuid.UUID
	Kind      *Kind
	Payee     *Payee
}

// Stats aggregates ledger balances for the admin dashboard.
type Stats struct {
	PlatformRevenueCents int64
	ProviderPendingCents int64
	ProviderPaidCents    int64
	ReversedCents        int64
	PayoutCount          int64
}

// Payable is a completed, paid booking that still awaits its payout.
type Payable struct {
	BookingID uuid.UUID
	UpdatedAt time.Time
}

// PayableCursor resumes FindPayable after the last booking of a page.
type PayableCursor struct {
	UpdatedAt time.Time
	BookingID uuid.UUID
}

// Cursor returns the position right after p.
func (p Payable) Cursor() *PayableCursor {
	return &PayableCursor{UpdatedAt: p.UpdatedAt, BookingID: p.BookingID}
}

// Repository defines persistence for ledger entries and the payout transaction.
type Repository interface {
	// List returns a page of entries, newest first.
	List(ctx context.Context, filter Filter, page, limit int) ([]*Entry, int64, error)

	// Stats aggregates balances across all bookings.
	Stats(ctx context.Context) (Stats, error)

	// SettlePayout locks the booking, checks it is completed and paid with no
	// payout, reversal or refund in flight, and writes the provider payout. Capture splits
	// for the booking are marked completed in the same transaction.
	SettlePayout(ctx context.Context, bookingID uuid.UUID, now time.Time) (*Entry, error)

	// FindPayable pages through completed, paid bookings without a payout
	// entry or a refund in flight, ordered by (updated_at, id). A nil cursor
	// starts from the beginning.
	FindPayable(ctx context.Context, after *PayableCursor, limit int) ([]Payable, error)
}
