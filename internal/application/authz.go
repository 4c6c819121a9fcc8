package application

import (
	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/domain"
)

// bookingRule decides whether an actor may act on a booking.
type bookingRule struct {
	name  string
	allow func(actor auth.Actor, b *booking.Booking) bool
}

var (
	// Renter who made the booking, or an admin.
	canManageBooking = bookingRule{
		name: "manage booking",
		allow: func(a auth.Actor, b *booking.Booking) bool {
			return a.IsAdmin() || b.RenterID() == a.UserID
		},
	}
	// Only the renter pays for their own booking.
	canPayBooking = bookingRule{
		name: "pay for booking",
		allow: func(a auth.Actor, b *booking.Booking) bool {
			return b.RenterID() == a.UserID
		},
	}
	// Provider that owns the site, or an admin.
	canCompleteBooking = bookingRule{
		name: "complete booking",
		allow: func(a auth.Actor, b *booking.Booking) bool {
			return a.IsAdmin() || (a.Role == auth.RoleProvider && b.ProviderID() == a.UserID)
		},
	}
)

func authorize(actor auth.Actor, b *booking.Booking, rule bookingRule) error {
	if rule.allow(actor, b) {
		return nil
	}
	return domain.NewForbiddenError("not allowed to " + rule.name)
}
