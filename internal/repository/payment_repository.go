package repository

import (
	"context"
	"errors"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	paymentDomain "github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentModel is the GORM persistence model for the payments table.
type PaymentModel struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ExternalTransactionID string     `gorm:"type:varchar(255);uniqueIndex;not null"`
	BookingID             uuid.UUID  `gorm:"type:uuid;index;not null"`
	RenterID              uuid.UUID  `gorm:"type:uuid;not null;index"`
	AmountCents           int64      `gorm:"not null"`
	Currency              string     `gorm:"type:varchar(3);not null"`
	PaymentMethod         string     `gorm:"type:varchar(50)"`
	Status                string     `gorm:"type:varchar(20);not null;default:'successful'"`
	Returned              bool       `gorm:"not null;default:false"`
	RefundedAt            *time.Time `gorm:"type:timestamptz"`
	RefundReason          string     `gorm:"type:text"`
	Version               int64      `gorm:"not null;default:1"`
	CreatedAt             time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt             time.Time  `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (PaymentModel) TableName() string {
	return "payments"
}

// PaymentRepositoryImpl is the GORM-based implementation of PaymentRepository.
type PaymentRepositoryImpl struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new GORM-based payment repository.
func NewPaymentRepository(db *gorm.DB) *PaymentRepositoryImpl {
	return &PaymentRepositoryImpl{db: db}
}

// FindByExternalID retrieves a payment by its gateway transaction ID.
func (r *PaymentRepositoryImpl) FindByExternalID(ctx context.Context, externalTransactionID string) (*paymentDomain.Payment, error) {
	var model PaymentModel
	if err := r.db.WithContext(ctx).Where("external_transaction_id = ?", externalTransactionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentDomain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toDomain(&model), nil
}

// FindByBookingID retrieves the payment that settled a booking.
func (r *PaymentRepositoryImpl) FindByBookingID(ctx context.Context, bookingID uuid.UUID) (*paymentDomain.Payment, error) {
	return paymentForBooking(r.db.WithContext(ctx), bookingID)
}

// ListByRenter retrieves a renter's payments with pagination.
func (r *PaymentRepositoryImpl) ListByRenter(ctx context.Context, renterID uuid.UUID, page, limit int) ([]*paymentDomain.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&PaymentModel{}).Where("renter_id = ?", renterID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []PaymentModel
	if err := q.Order("created_at DESC").Offset(offset(page, limit)).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	payments := make([]*paymentDomain.Payment, len(models))
	for i := range models {
		payments[i] = toDomain(&models[i])
	}
	return payments, total, nil
}

// Capture records a gateway capture together with its booking and ledger effects.
func (r *PaymentRepositoryImpl) Capture(ctx context.Context, cmd paymentDomain.CaptureCommand) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toModel(cmd.Payment)).Error; err != nil {
			if isUniqueViolation(err) {
				return paymentDomain.ErrDuplicatePayment
			}
			return err
		}
		if cmd.ConfirmBooking {
			confirmed, err := confirmBooking(tx, cmd.Payment.BookingID())
			if err != nil {
				return err
			}
			if !confirmed {
				return booking.ErrBookingNotPending
			}
		}
		_, err := insertEntries(tx, cmd.Entries)
		return err
	})
}

// ConvergeCapture fills in whatever part of a capture is missing for a booking
// whose payment row already exists.
func (r *PaymentRepositoryImpl) ConvergeCapture(ctx context.Context, bookingID uuid.UUID, entries []*ledger.Entry) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		confirmed, err := confirmBooking(tx, bookingID)
		if err != nil {
			return err
		}
		inserted, err := insertEntries(tx, entries)
		if err != nil {
			return err
		}
		changed = confirmed || inserted > 0
		return nil
	})
	return changed, err
}

// MarkChargeReturned flags a returned charge as given back.
func (r *PaymentRepositoryImpl) MarkChargeReturned(ctx context.Context, paymentID uuid.UUID, reason string, now time.Time) error {
	now = now.UTC()
	return r.db.WithContext(ctx).Model(&PaymentModel{}).
		Where("id = ? AND returned AND status = ?", paymentID, string(paymentDomain.StatusSuccessful)).
		Updates(map[string]interface{}{
			"status":        string(paymentDomain.StatusRefunded),
			"refunded_at":   now,
			"refund_reason": reason,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    now,
		}).Error
}

// PrepareRefund validates a refund under the booking lock and marks the
// payment as refunding. A retry finds the refund already started and resumes it.
func (r *PaymentRepositoryImpl) PrepareRefund(ctx context.Context, bookingID uuid.UUID, now time.Time) (paymentDomain.RefundPlan, error) {
	var plan paymentDomain.RefundPlan
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockBooking(tx, bookingID); err != nil {
			return err
		}
		p, err := paymentForBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if err := p.CheckRefundable(); err != nil {
			return err
		}

		entries, err := entriesForBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if ledger.HasKind(entries, ledger.KindPayout) {
			return ledger.ErrPayoutAlreadySettled
		}

		started, err := p.BeginRefund(now)
		if err != nil {
			return err
		}
		if started {
			if err := updatePayment(tx, p); err != nil {
				return err
			}
		}
		plan = paymentDomain.RefundPlan{Payment: p, Created: started}
		return nil
	})
	if err != nil {
		return paymentDomain.RefundPlan{}, err
	}
	return plan, nil
}

// AbortRefund returns a refunding payment to successful.
func (r *PaymentRepositoryImpl) AbortRefund(ctx context.Context, bookingID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockBooking(tx, bookingID); err != nil {
			return err
		}
		p, err := paymentForBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if !p.AbortRefund(now) {
			return nil
		}
		return updatePayment(tx, p)
	})
}

// FinalizeRefund applies a gateway-confirmed refund to the payment, the
// booking, its nights and the ledger in one transaction.
func (r *PaymentRepositoryImpl) FinalizeRefund(ctx context.Context, bookingID uuid.UUID, reason string, now time.Time) (*paymentDomain.Payment, error) {
	now = now.UTC()
	var refunded *paymentDomain.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBooking(tx, bookingID)
		if err != nil {
			return err
		}
		p, err := paymentForBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if err := p.Refund(reason, now); err != nil {
			return err
		}
		if err := updatePayment(tx, p); err != nil {
			return err
		}

		entries, err := entriesForBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if _, err := insertEntries(tx, ledger.ReversalsFor(entries, ledger.StatusCompleted, now)); err != nil {
			return err
		}
		if err := tx.Model(&LedgerEntryModel{}).
			Where("booking_id = ? AND kind = ?", bookingID, string(ledger.KindCaptureSplit)).
			Update("status", string(ledger.StatusReversed)).Error; err != nil {
			return err
		}

		wasLive := b.HoldsCapacity()
		if err := b.MarkRefunded(reason); err != nil {
			return err
		}
		if err := saveBooking(tx, b); err != nil {
			return err
		}
		if wasLive {
			if err := releaseNights(tx, b.SiteID(), b.CheckIn(), b.CheckOut(), now); err != nil {
				return err
			}
		}
		refunded = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

func paymentForBooking(db *gorm.DB, bookingID uuid.UUID) (*paymentDomain.Payment, error) {
	var model PaymentModel
	if err := db.Where("booking_id = ? AND NOT returned", bookingID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentDomain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toDomain(&model), nil
}

// confirmBooking moves a pending, unpaid booking to confirmed and paid. It
// reports false when the booking is in any other state.
func confirmBooking(tx *gorm.DB, bookingID uuid.UUID) (bool, error) {
	b, err := lockBooking(tx, bookingID)
	if err != nil {
		return false, err
	}
	if err := b.Confirm(); err != nil {
		if errors.Is(err, booking.ErrBookingNotPending) {
			return false, nil
		}
		return false, err
	}
	return true, saveBooking(tx, b)
}

// updatePayment persists changes with optimistic locking.
func updatePayment(tx *gorm.DB, p *paymentDomain.Payment) error {
	model := toModel(p)
	previousVersion := p.Version() - 1

	result := tx.Model(&PaymentModel{}).
		Where("id = ? AND version = ?", model.ID, previousVersion).
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errConcurrentPaymentUpdate
	}
	return nil
}

// toDomain maps a PaymentModel to the domain Payment aggregate.
func toDomain(model *PaymentModel) *paymentDomain.Payment {
	return paymentDomain.Reconstitute(
		model.ID,
		model.ExternalTransactionID,
		model.BookingID,
		model.RenterID,
		model.AmountCents,
		model.Currency,
		model.PaymentMethod,
		paymentDomain.Status(model.Status),
		model.Returned,
		model.RefundedAt,
		model.RefundReason,
		model.Version,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

// toModel maps a domain Payment aggregate to a PaymentModel for persistence.
func toModel(p *paymentDomain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:                    p.ID(),
		ExternalTransactionID: p.ExternalTransactionID(),
		BookingID:             p.BookingID(),
		RenterID:              p.RenterID(),
		AmountCents:           p.AmountCents(),
		Currency:              p.Currency(),
		PaymentMethod:         p.Method(),
		Status:                string(p.Status()),
		Returned:              p.Returned(),
		RefundedAt:            p.RefundedAt(),
		RefundReason:          p.RefundReason(),
		Version:               p.Version(),
		CreatedAt:             p.CreatedAt(),
		UpdatedAt:             p.UpdatedAt(),
	}
}
