package repository

import (
	"context"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	paymentDomain "github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerEntryModel is the GORM model for the append-only ledger_entries table.
type LedgerEntryModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	BookingID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	Payee          string     `gorm:"type:varchar(20);not null"`
	PayeeID        *uuid.UUID `gorm:"type:uuid"`
	AmountCents    int64      `gorm:"not null"`
	Kind           string     `gorm:"type:varchar(30);not null"`
	Status         string     `gorm:"type:varchar(20);not null"`
	IdempotencyKey string     `gorm:"type:varchar(120);uniqueIndex;not null"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// LedgerRepositoryImpl is the GORM-based implementation of ledger.Repository.
type LedgerRepositoryImpl struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new GORM-based ledger repository.
func NewLedgerRepository(db *gorm.DB) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{db: db}
}

// List returns a filtered page of entries (admin).
func (r *LedgerRepositoryImpl) List(ctx context.Context, filter ledger.Filter, page, limit int) ([]*ledger.Entry, int64, error) {
	q := r.db.WithContext(ctx).Model(&LedgerEntryModel{})
	if filter.BookingID != nil {
		q = q.Where("booking_id = ?", *filter.BookingID)
	}
	if filter.Kind != nil {
		q = q.Where("kind = ?", string(*filter.Kind))
	}
	if filter.Payee != nil {
		q = q.Where("payee = ?", string(*filter.Payee))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []LedgerEntryModel
	if err := q.Order("created_at DESC").Offset(offset(page, limit)).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return toEntries(models), total, nil
}

// Stats aggregates ledger balances (admin).
func (r *LedgerRepositoryImpl) Stats(ctx context.Context) (ledger.Stats, error) {
	var stats ledger.Stats
	err := r.db.WithContext(ctx).Raw(`SELECT
		COALESCE(SUM(CASE WHEN payee = ? AND kind IN (?, ?) THEN amount_cents ELSE 0 END), 0) AS platform_revenue_cents,
		COALESCE(SUM(CASE WHEN payee = ? AND kind = ? AND status = ? THEN amount_cents ELSE 0 END), 0) AS provider_pending_cents,
		COALESCE(SUM(CASE WHEN kind = ? THEN amount_cents ELSE 0 END), 0) AS provider_paid_cents,
		COALESCE(SUM(CASE WHEN kind = ? THEN -amount_cents ELSE 0 END), 0) AS reversed_cents,
		COUNT(*) FILTER (WHERE kind = ?) AS payout_count
		FROM ledger_entries`,
		string(ledger.PayeePlatform), string(ledger.KindCaptureSplit), string(ledger.KindRefundReversal),
		string(ledger.PayeeProvider), string(ledger.KindCaptureSplit), string(ledger.StatusPending),
		string(ledger.KindPayout),
		string(ledger.KindRefundReversal),
		string(ledger.KindPayout),
	).Scan(&stats).Error
	return stats, err
}

// SettlePayout writes the provider payout for a completed, paid booking. The
// booking row lock serialises it against a concurrent refund.
func (r *LedgerRepositoryImpl) SettlePayout(ctx context.Context, bookingID uuid.UUID, now time.Time) (*ledger.Entry, error) {
	var payout *ledger.Entry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if b.Status() != booking.StatusCompleted {
			return booking.ErrBookingNotCompleted
		}
		if b.PaymentStatus() != booking.PaymentPaid {
			return booking.ErrBookingNotPaid
		}
		settled, err := paymentForBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if settled.Status() == paymentDomain.StatusRefunding {
			return ledger.ErrRefundInProgress
		}

		entries, err := entriesForBooking(tx, bookingID)
		if err != nil {
			return err
		}
		p, err := ledger.PayoutFor(entries, now.UTC())
		if err != nil {
			return err
		}
		if err := tx.Create(toEntryModel(p)).Error; err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrPayoutAlreadySettled
			}
			return err
		}
		if err := tx.Model(&LedgerEntryModel{}).
			Where("booking_id = ? AND kind = ? AND status = ?",
				bookingID, string(ledger.KindCaptureSplit), string(ledger.StatusPending)).
			Update("status", string(ledger.StatusCompleted)).Error; err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// FindPayable pages through payable bookings with a keyset cursor, so
// bookings that keep failing do not hide the ones behind them.
func (r *LedgerRepositoryImpl) FindPayable(ctx context.Context, after *ledger.PayableCursor, limit int) ([]ledger.Payable, error) {
	q := r.db.WithContext(ctx).Model(&BookingModel{}).
		Select("id AS booking_id, updated_at").
		Where("status = ? AND payment_status = ?", string(booking.StatusCompleted), string(booking.PaymentPaid)).
		Where("NOT EXISTS (SELECT 1 FROM ledger_entries le WHERE le.booking_id = bookings.id AND le.kind = ?)",
			string(ledger.KindPayout)).
		Where("NOT EXISTS (SELECT 1 FROM payments p WHERE p.booking_id = bookings.id AND NOT p.returned AND p.status = ?)",
			string(paymentDomain.StatusRefunding))
	if after != nil {
		q = q.Where("(updated_at, id) > (?, ?)", after.UpdatedAt, after.BookingID)
	}

	var rows []ledger.Payable
	err := q.Order("updated_at ASC, id ASC").Limit(limit).Scan(&rows).Error
	return rows, err
}

func entriesForBooking(db *gorm.DB, bookingID uuid.UUID) ([]*ledger.Entry, error) {
	var models []LedgerEntryModel
	if err := db.Where("booking_id = ?", bookingID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return toEntries(models), nil
}

// insertEntries writes entries, skipping any whose idempotency key already
// exists. It reports how many rows were new.
func insertEntries(tx *gorm.DB, entries []*ledger.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	models := make([]*LedgerEntryModel, len(entries))
	for i, e := range entries {
		models[i] = toEntryModel(e)
	}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&models)
	return result.RowsAffected, result.Error
}

func toEntries(models []LedgerEntryModel) []*ledger.Entry {
	out := make([]*ledger.Entry, len(models))
	for i := range models {
		m := models[i]
		out[i] = &ledger.Entry{
			ID:             m.ID,
			BookingID:      m.BookingID,
			Payee:          ledger.Payee(m.Payee),
			PayeeID:        m.PayeeID,
			AmountCents:    m.AmountCents,
			Kind:           ledger.Kind(m.Kind),
			Status:         ledger.Status(m.Status),
			IdempotencyKey: m.IdempotencyKey,
			CreatedAt:      m.CreatedAt,
		}
	}
	return out
}

func toEntryModel(e *ledger.Entry) *LedgerEntryModel {
	return &LedgerEntryModel{
		ID:             e.ID,
		BookingID:      e.BookingID,
		Payee:          string(e.Payee),
		PayeeID:        e.PayeeID,
		AmountCents:    e.AmountCents,
		Kind:           string(e.Kind),
		Status:         string(e.Status),
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt,
	}
}
