package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Site carries what admission needs to know about a site.
type Site struct {
	ID         uuid.UUID
	NightlyCap int
}

// BuildFunc prices and constructs the booking once capacity has been
// reserved. peakOccupancyPct is the fullest requested night before this
// booking was counted.
type BuildFunc func(peakOccupancyPct int) (*Booking, error)

// CancelGuard narrows which bookings a cancel may touch.
type CancelGuard struct {
	// RequireUnpaid refuses to cancel a booking whose payment has been captured.
	RequireUnpaid bool
	// OnlyPendingBefore, when set, restricts the cancel to pending bookings created before it.
	OnlyPendingBefore *time.Time
	Reason            string
}

// Allows reports whether the guard lets b be cancelled.
func (g CancelGuard) Allows(b *Booking) bool {
	if g.RequireUnpaid && b.PaymentStatus() != PaymentUnpaid {
		return false
	}
	if g.OnlyPendingBefore != nil && (b.Status() != StatusPending || !b.CreatedAt().Before(*g.OnlyPendingBefore)) {
		return false
	}
	return true
}

// NightCapacity is the counter for one site night.
type NightCapacity struct {
	Night    time.Time
	Reserved int
	Cap      int
}

// ListFilter selects bookings for list endpoints. Zero fields match everything.
type ListFilter struct {
	RenterID   *uuid.UUID
	ProviderID *uuid.UUID
	Status     *Status
}

// Repository is the persistence contract for bookings and their capacity counters.
type Repository interface {
	// Admit reserves one slot on every night of [checkIn, checkOut) for the
	// site and stores the booking returned by build, all in one transaction.
	// It fails with ErrCapacityExceeded if any night is full.
	Admit(ctx context.Context, site Site, checkIn, checkOut time.Time, build BuildFunc) (*Booking, error)

	// FindByID retrieves a booking.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// List returns a page of bookings, newest first.
	List(ctx context.Context, filter ListFilter, page, limit int) ([]*Booking, int64, error)

	// Cancel transitions a pending or confirmed booking matching guard to
	// cancelled and releases its nights. It reports false when nothing matched.
	Cancel(ctx context.Context, id uuid.UUID, guard CancelGuard) (bool, error)

	// FindStalePending lists pending, unpaid bookings created before cutoff.
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// Complete marks a confirmed, paid booking whose stay has started as completed.
	Complete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// FindFinishedStays lists confirmed, paid bookings whose checkout is at or before now.
	FindFinishedStays(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// Occupancy returns the stored counters for the given nights. Nights
	// nobody has booked yet have no row.
	Occupancy(ctx context.Context, siteID uuid.UUID, nights []time.Time) ([]NightCapacity, error)
}
