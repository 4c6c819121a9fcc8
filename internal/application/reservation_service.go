package application

import (
	"context"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/site"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/campbook/service-reservation/pkg/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	dateLayout  = "2006-01-02"
	sweepBatch  = 100
	expiredNote = "payment window expired"
)

// AdmitBookingRequest is the DTO for reserving a site.
type AdmitBookingRequest struct {
	SiteID   uuid.UUID `json:"site_id" binding:"required"`
	CheckIn  string    `json:"check_in" binding:"required"`
	CheckOut string    `json:"check_out" binding:"required"`
}

// CancelBookingRequest optionally carries a reason.
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// BookingDTO is the API response DTO for booking data.
type BookingDTO struct {
	ID              uuid.UUID `json:"id"`
	SiteID          uuid.UUID `json:"site_id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	RenterID        uuid.UUID `json:"renter_id"`
	CheckIn         string    `json:"check_in"`
	CheckOut        string    `json:"check_out"`
	Nights          int       `json:"nights"`
	TotalPriceCents int64     `json:"total_price_cents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	PaymentStatus   string    `json:"payment_status"`
	CancelReason    string    `json:"cancel_reason,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AvailabilityDTO reports how many more bookings the fullest requested night can take.
type AvailabilityDTO struct {
	SiteID     uuid.UUID `json:"site_id"`
	CheckIn    string    `json:"check_in"`
	CheckOut   string    `json:"check_out"`
	Available  bool      `json:"available"`
	Remaining  int       `json:"remaining"`
	Cap        int       `json:"cap"`
	PriceCents int64     `json:"price_cents,omitempty"`
}

// Refunder reverses the captured payment of a booking.
type Refunder interface {
	RefundBooking(ctx context.Context, bookingID uuid.UUID, reason string) error
}

// ReservationService admits, cancels and completes bookings.
type ReservationService struct {
	bookings booking.Repository
	sites    site.Repository
	refunder Refunder
	events   EventPublisher
	currency string
	now      Clock
	logger   *zap.Logger
}

// NewReservationService creates a new ReservationService.
func NewReservationService(
	bookings booking.Repository,
	sites site.Repository,
	refunder Refunder,
	events EventPublisher,
	currency string,
	now Clock,
	logger *zap.Logger,
) *ReservationService {
	if now == nil {
		now = systemClock
	}
	return &ReservationService{
		bookings: bookings,
		sites:    sites,
		refunder: refunder,
		events:   events,
		currency: currency,
		now:      now,
		logger:   logger,
	}
}

// AdmitBooking reserves one slot on every requested night and creates a
// pending booking priced at admission time.
func (s *ReservationService) AdmitBooking(ctx context.Context, actor auth.Actor, req AdmitBookingRequest) (*BookingDTO, error) {
	ctx, span := tracer.Start(ctx, "ReservationService.AdmitBooking")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", req.SiteID.String()))

	now := s.now()
	checkIn, checkOut, err := parseRange(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}
	if err := booking.ValidateRange(checkIn, checkOut, now); err != nil {
		return nil, err
	}

	st, err := s.activeSite(ctx, req.SiteID)
	if err != nil {
		return nil, err
	}

	b, err := s.bookings.Admit(ctx,
		booking.Site{ID: st.ID(), NightlyCap: st.MaxBookingsPerNight()},
		checkIn, checkOut,
		func(peak int) (*booking.Booking, error) {
			quote, err := st.Quote(checkIn, checkOut, peak, now)
			if err != nil {
				return nil, err
			}
			return booking.NewBooking(st.ID(), st.ProviderID(), actor.UserID, checkIn, checkOut, quote.TotalCents, s.currency, now)
		})
	if err != nil {
		s.logger.Info("booking not admitted",
			zap.String("site_id", req.SiteID.String()),
			zap.String("renter_id", actor.UserID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("booking admitted",
		zap.String("booking_id", b.ID().String()),
		zap.String("site_id", b.SiteID().String()),
		zap.Int64("total_price_cents", b.TotalPriceCents()),
	)
	s.events.BookingChanged(ctx, events.BookingCreated, b)

	dto := toBookingDTO(b)
	return &dto, nil
}

// CancelBooking cancels a live booking and frees its nights. A paid booking is
// refunded first. Cancelling a terminal booking returns it unchanged.
func (s *ReservationService) CancelBooking(ctx context.Context, actor auth.Actor, bookingID uuid.UUID, reason string) (*BookingDTO, error) {
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, b, canManageBooking); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by " + string(actor.Role)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if b.IsTerminal() {
			dto := toBookingDTO(b)
			return &dto, nil
		}

		if b.PaymentStatus() == booking.PaymentPaid {
			if err := s.refunder.RefundBooking(ctx, bookingID, reason); err != nil {
				return nil, err
			}
			return s.reloadAndAnnounce(ctx, bookingID, events.BookingCancelled)
		}

		cancelled, err := s.bookings.Cancel(ctx, bookingID, booking.CancelGuard{RequireUnpaid: true, Reason: reason})
		if err != nil {
			return nil, err
		}
		if cancelled {
			s.logger.Info("booking cancelled",
				zap.String("booking_id", bookingID.String()),
				zap.String("actor_id", actor.UserID.String()),
			)
			return s.reloadAndAnnounce(ctx, bookingID, events.BookingCancelled)
		}

		// Lost a race with the webhook or the reaper; look again.
		if b, err = s.bookings.FindByID(ctx, bookingID); err != nil {
			return nil, err
		}
	}

	dto := toBookingDTO(b)
	return &dto, nil
}

// CheckAvailability reports the remaining capacity for a range without reserving anything.
func (s *ReservationService) CheckAvailability(ctx context.Context, siteID uuid.UUID, checkInRaw, checkOutRaw string) (*AvailabilityDTO, error) {
	checkIn, checkOut, err := parseRange(checkInRaw, checkOutRaw)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := booking.ValidateRange(checkIn, checkOut, now); err != nil {
		return nil, err
	}
	st, err := s.activeSite(ctx, siteID)
	if err != nil {
		return nil, err
	}

	nights := booking.NightsBetween(checkIn, checkOut)
	rows, err := s.bookings.Occupancy(ctx, siteID, nights)
	if err != nil {
		return nil, err
	}
	byNight := make(map[time.Time]booking.NightCapacity, len(rows))
	for _, r := range rows {
		byNight[r.Night] = r
	}

	remaining, peak := st.MaxBookingsPerNight(), 0
	for _, n := range nights {
		r, ok := byNight[n]
		if !ok {
			continue
		}
		if left := r.Cap - r.Reserved; left < remaining {
			remaining = left
		}
		if pct := r.Reserved * 100 / r.Cap; pct > peak {
			peak = pct
		}
	}
	if remaining < 0 {
		remaining = 0
	}

	dto := &AvailabilityDTO{
		SiteID:    siteID,
		CheckIn:   checkIn.Format(dateLayout),
		CheckOut:  checkOut.Format(dateLayout),
		Available: remaining > 0,
		Remaining: remaining,
		Cap:       st.MaxBookingsPerNight(),
	}
	if dto.Available {
		if quote, err := st.Quote(checkIn, checkOut, peak, now); err == nil {
			dto.PriceCents = quote.TotalCents
		}
	}
	return dto, nil
}

// ListMyBookings returns the actor's own bookings, optionally by status.
func (s *ReservationService) ListMyBookings(ctx context.Context, actor auth.Actor, status string, page, limit int) ([]BookingDTO, int64, error) {
	filter := booking.ListFilter{RenterID: &actor.UserID}
	if err := applyStatus(&filter, status); err != nil {
		return nil, 0, err
	}
	return s.list(ctx, filter, page, limit)
}

// ListBookings returns all bookings for an admin and the bookings of their
// own sites for a provider.
func (s *ReservationService) ListBookings(ctx context.Context, actor auth.Actor, status string, page, limit int) ([]BookingDTO, int64, error) {
	var filter booking.ListFilter
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleProvider:
		filter.ProviderID = &actor.UserID
	default:
		return nil, 0, domain.NewForbiddenError("not allowed to list bookings")
	}
	if err := applyStatus(&filter, status); err != nil {
		return nil, 0, err
	}
	return s.list(ctx, filter, page, limit)
}

// CompleteBooking marks a confirmed booking as completed once its stay has started.
func (s *ReservationService) CompleteBooking(ctx context.Context, actor auth.Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, b, canCompleteBooking); err != nil {
		return nil, err
	}
	if b.Status() == booking.StatusCompleted {
		dto := toBookingDTO(b)
		return &dto, nil
	}
	now := s.now()
	if err := b.Complete(now); err != nil {
		return nil, err
	}

	done, err := s.bookings.Complete(ctx, bookingID, now)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, booking.ErrNotCompletable
	}
	return s.reloadAndAnnounce(ctx, bookingID, events.BookingCompleted)
}

// ExpireStale cancels pending, unpaid bookings older than grace and releases
// their nights. It is safe to run concurrently and repeatedly.
func (s *ReservationService) ExpireStale(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	expired := 0
	for {
		ids, err := s.bookings.FindStalePending(ctx, cutoff, sweepBatch)
		if err != nil {
			return expired, err
		}
		for _, id := range ids {
			ok, err := s.bookings.Cancel(ctx, id, booking.CancelGuard{
				RequireUnpaid:     true,
				OnlyPendingBefore: &cutoff,
				Reason:            expiredNote,
			})
			if err != nil {
				return expired, err
			}
			if !ok {
				continue
			}
			expired++
			if _, err := s.reloadAndAnnounce(ctx, id, events.BookingExpired); err != nil {
				s.logger.Warn("expired booking reload failed", zap.String("booking_id", id.String()), zap.Error(err))
			}
		}
		if len(ids) < sweepBatch {
			return expired, nil
		}
	}
}

// CompleteFinishedStays completes confirmed, paid bookings whose checkout has passed.
func (s *ReservationService) CompleteFinishedStays(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.bookings.FindFinishedStays(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, id := range ids {
		ok, err := s.bookings.Complete(ctx, id, now)
		if err != nil {
			return completed, err
		}
		if !ok {
			continue
		}
		completed++
		if _, err := s.reloadAndAnnounce(ctx, id, events.BookingCompleted); err != nil {
			s.logger.Warn("completed booking reload failed", zap.String("booking_id", id.String()), zap.Error(err))
		}
	}
	return completed, nil
}

func (s *ReservationService) activeSite(ctx context.Context, id uuid.UUID) (*site.Site, error) {
	st, err := s.sites.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.Active() {
		return nil, site.ErrSiteNotFound
	}
	return st, nil
}

func (s *ReservationService) list(ctx context.Context, filter booking.ListFilter, page, limit int) ([]BookingDTO, int64, error) {
	page, limit = pageBounds(page, limit)
	bookings, total, err := s.bookings.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	return dtos, total, nil
}

func (s *ReservationService) reloadAndAnnounce(ctx context.Context, id uuid.UUID, eventType string) (*BookingDTO, error) {
	b, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.BookingChanged(ctx, eventType, b)
	dto := toBookingDTO(b)
	return &dto, nil
}

func applyStatus(filter *booking.ListFilter, raw string) error {
	if raw == "" {
		return nil
	}
	st := booking.Status(raw)
	if !st.Valid() {
		return domain.NewValidationError("INVALID_STATUS", "unknown booking status "+raw)
	}
	filter.Status = &st
	return nil
}

func parseRange(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := time.Parse(dateLayout, checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("INVALID_DATE", "check_in must be YYYY-MM-DD")
	}
	out, err := time.Parse(dateLayout, checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("INVALID_DATE", "check_out must be YYYY-MM-DD")
	}
	return in, out, nil
}

// toBookingDTO maps a domain Booking to a BookingDTO.
func toBookingDTO(b *booking.Booking) BookingDTO {
	return BookingDTO{
		ID:              b.ID(),
		SiteID:          b.SiteID(),
		ProviderID:      b.ProviderID(),
		RenterID:        b.RenterID(),
		CheckIn:         b.CheckIn().Format(dateLayout),
		CheckOut:        b.CheckOut().Format(dateLayout),
		Nights:          len(b.Nights()),
		TotalPriceCents: b.TotalPriceCents(),
		Currency:        b.Currency(),
		Status:          string(b.Status()),
		PaymentStatus:   string(b.PaymentStatus()),
		CancelReason:    b.CancelReason(),
		Version:         b.Version(),
		CreatedAt:       b.CreatedAt(),
		UpdatedAt:       b.UpdatedAt(),
	}
}
