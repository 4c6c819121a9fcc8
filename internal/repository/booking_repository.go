package repository

import (
	"context"
	"errors"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookingModel is the GORM persistence model for the bookings table.
type BookingModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	SiteID          uuid.UUID `gorm:"type:uuid;not null;index"`
	ProviderID      uuid.UUID `gorm:"type:uuid;not null;index"`
	RenterID        uuid.UUID `gorm:"type:uuid;not null;index"`
	CheckIn         time.Time `gorm:"type:date;not null"`
	CheckOut        time.Time `gorm:"type:date;not null"`
	TotalPriceCents int64     `gorm:"not null"`
	Currency        string    `gorm:"type:varchar(3);not null"`
	Status          string    `gorm:"type:varchar(20);not null;default:'pending';index"`
	PaymentStatus   string    `gorm:"type:varchar(20);not null;default:'unpaid'"`
	CancelReason    string    `gorm:"type:text"`
	Version         int64     `gorm:"not null;default:1"`
	CreatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (BookingModel) TableName() string {
	return "bookings"
}

// BookingRepositoryImpl is the GORM-based implementation of booking.Repository.
type BookingRepositoryImpl struct {
	db *gorm.DB
}

// NewBookingRepository creates a new GORM-based booking repository.
func NewBookingRepository(db *gorm.DB) *BookingRepositoryImpl {
	return &BookingRepositoryImpl{db: db}
}

// Admit reserves capacity and stores the booking atomically.
func (r *BookingRepositoryImpl) Admit(ctx context.Context, site booking.Site, checkIn, checkOut time.Time, build booking.BuildFunc) (*booking.Booking, error) {
	var admitted *booking.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		peak, err := reserveNights(tx, site, booking.NightsBetween(checkIn, checkOut), time.Now().UTC())
		if err != nil {
			return err
		}
		b, err := build(peak)
		if err != nil {
			return err
		}
		if err := tx.Create(toBookingModel(b)).Error; err != nil {
			return err
		}
		admitted = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return admitted, nil
}

// FindByID retrieves a booking by its unique ID.
func (r *BookingRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, err
	}
	return toBookingDomain(&model), nil
}

// List returns a filtered page of bookings.
func (r *BookingRepositoryImpl) List(ctx context.Context, filter booking.ListFilter, page, limit int) ([]*booking.Booking, int64, error) {
	q := r.db.WithContext(ctx).Model(&BookingModel{})
	if filter.RenterID != nil {
		q = q.Where("renter_id = ?", *filter.RenterID)
	}
	if filter.ProviderID != nil {
		q = q.Where("provider_id = ?", *filter.ProviderID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []BookingModel
	if err := q.Order("created_at DESC").Offset(offset(page, limit)).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	bookings := make([]*booking.Booking, len(models))
	for i := range models {
		bookings[i] = toBookingDomain(&models[i])
	}
	return bookings, total, nil
}

// Cancel moves a live booking to cancelled and releases its nights in the
// same transaction. The row lock makes concurrent cancels release once.
func (r *BookingRepositoryImpl) Cancel(ctx context.Context, id uuid.UUID, guard booking.CancelGuard) (bool, error) {
	cancelled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBooking(tx, id)
		if err != nil {
			return err
		}
		if !guard.Allows(b) || !b.Cancel(guard.Reason) {
			return nil
		}
		if err := saveBooking(tx, b); err != nil {
			return err
		}
		if err := releaseNights(tx, b.SiteID(), b.CheckIn(), b.CheckOut(), b.UpdatedAt()); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}

// FindStalePending lists pending, unpaid bookings older than cutoff.
func (r *BookingRepositoryImpl) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Where("status = ? AND payment_status = ? AND created_at < ?",
			string(booking.StatusPending), string(booking.PaymentUnpaid), cutoff).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Complete marks a started, paid stay as completed. Capacity is not released.
func (r *BookingRepositoryImpl) Complete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	completed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBooking(tx, id)
		if err != nil {
			return err
		}
		if err := b.Complete(now); err != nil {
			if errors.Is(err, booking.ErrNotCompletable) {
				return nil
			}
			return err
		}
		if err := saveBooking(tx, b); err != nil {
			return err
		}
		completed = true
		return nil
	})
	return completed, err
}

// FindFinishedStays lists confirmed, paid bookings whose checkout has passed.
func (r *BookingRepositoryImpl) FindFinishedStays(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Where("status = ? AND payment_status = ? AND check_out <= ?",
			string(booking.StatusConfirmed), string(booking.PaymentPaid), booking.Day(now)).
		Order("check_out ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Occupancy returns the stored counters for the requested nights.
func (r *BookingRepositoryImpl) Occupancy(ctx context.Context, siteID uuid.UUID, nights []time.Time) ([]booking.NightCapacity, error) {
	if len(nights) == 0 {
		return nil, nil
	}
	var models []CapacityNightModel
	if err := r.db.WithContext(ctx).
		Where("site_id = ? AND night IN ?", siteID, nights).
		Order("night ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]booking.NightCapacity, len(models))
	for i, m := range models {
		out[i] = booking.NightCapacity{Night: booking.Day(m.Night), Reserved: m.ReservedCount, Cap: m.Cap}
	}
	return out, nil
}

// lockBooking loads a booking row with SELECT ... FOR UPDATE.
func lockBooking(tx *gorm.DB, id uuid.UUID) (*booking.Booking, error) {
	var model BookingModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, err
	}
	return toBookingDomain(&model), nil
}

// saveBooking writes a booking whose version was bumped by a domain method.
func saveBooking(tx *gorm.DB, b *booking.Booking) error {
	result := tx.Model(&BookingModel{}).
		Where("id = ? AND version = ?", b.ID(), b.Version()-1).
		Updates(map[string]interface{}{
			"status":         string(b.Status()),
			"payment_status": string(b.PaymentStatus()),
			"cancel_reason":  b.CancelReason(),
			"version":        b.Version(),
			"updated_at":     b.UpdatedAt(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errConcurrentBookingUpdate
	}
	return nil
}

func toBookingDomain(m *BookingModel) *booking.Booking {
	return booking.Reconstitute(
		m.ID, m.SiteID, m.ProviderID, m.RenterID,
		m.CheckIn, m.CheckOut,
		m.TotalPriceCents,
		m.Currency,
		booking.Status(m.Status),
		booking.PaymentStatus(m.PaymentStatus),
		m.CancelReason,
		m.Version,
		m.CreatedAt, m.UpdatedAt,
	)
}

func toBookingModel(b *booking.Booking) *BookingModel {
	return &BookingModel{
		ID:              b.ID(),
		SiteID:          b.SiteID(),
		ProviderID:      b.ProviderID(),
		RenterID:        b.RenterID(),
		CheckIn:         b.CheckIn(),
		CheckOut:        b.CheckOut(),
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
