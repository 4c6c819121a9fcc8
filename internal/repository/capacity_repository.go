package repository

import (
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CapacityNightModel is one site night's admission counter.
type CapacityNightModel struct {
	SiteID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Night         time.Time `gorm:"type:date;primaryKey"`
	ReservedCount int       `gorm:"not null;default:0;check:chk_reserved_count,reserved_count >= 0"`
	Cap           int       `gorm:"not null;check:chk_cap,cap >= 1"`
	Version       int64     `gorm:"not null;default:1"`
	UpdatedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (CapacityNightModel) TableName() string {
	return "capacity_nights"
}

type capacityRow struct {
	ReservedCount int
	Cap           int
}

// reserveNights takes one slot on every night, in ascending order, with a
// conditional increment per row. It returns the occupancy percentage of the
// fullest night as it was before this reservation. Must run inside tx.
func reserveNights(tx *gorm.DB, site booking.Site, nights []time.Time, now time.Time) (int, error) {
	if len(nights) == 0 {
		return 0, booking.ErrInvalidRange
	}

	seed := make([]CapacityNightModel, len(nights))
	for i, n := range nights {
		seed[i] = CapacityNightModel{SiteID: site.ID, Night: n, Cap: site.NightlyCap, Version: 1, UpdatedAt: now}
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return 0, err
	}

	peak := 0
	for _, n := range nights {
		var rows []capacityRow
		err := tx.Raw(`UPDATE capacity_nights
			SET reserved_count = reserved_count + 1, version = version + 1, updated_at = ?
			WHERE site_id = ? AND night = ? AND reserved_count < cap
			RETURNING reserved_count, cap`, now, site.ID, n).
			Scan(&rows).Error
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, booking.ErrCapacityExceeded
		}
		if pct := (rows[0].ReservedCount - 1) * 100 / rows[0].Cap; pct > peak {
			peak = pct
		}
	}
	return peak, nil
}

// releaseNights gives back one slot on every night of [checkIn, checkOut).
// Must run inside the transaction that made the booking terminal.
func releaseNights(tx *gorm.DB, siteID uuid.UUID, checkIn, checkOut, now time.Time) error {
	return tx.Exec(`UPDATE capacity_nights
		SET reserved_count = reserved_count - 1, version = version + 1, updated_at = ?
		WHERE site_id = ? AND night >= ? AND night < ? AND reserved_count > 0`,
		now, siteID, booking.Day(checkIn), booking.Day(checkOut)).Error
}
