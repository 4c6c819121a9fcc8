package repository

import (
	"context"
	"errors"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/pricing"
	"github.com/campbook/service-reservation/internal/domain/site"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SiteModel is the GORM model for the sites projection.
type SiteModel struct {
	ID                  uuid.UUID                         `gorm:"type:uuid;primaryKey"`
	ProviderID          uuid.UUID                         `gorm:"type:uuid;not null;index"`
	Name                string                            `gorm:"type:varchar(200);not null"`
	NightlyRateCents    int64                             `gorm:"not null"`
	MaxBookingsPerNight int                               `gorm:"not null"`
	PricingRules        datatypes.JSONType[pricing.Rules] `gorm:"type:jsonb;not null"`
	Active              bool                              `gorm:"not null;default:true"`
	CreatedAt           time.Time                         `gorm:"type:timestamptz;not null"`
	UpdatedAt           time.Time                         `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (SiteModel) TableName() string { return "sites" }

// GormSiteRepository implements site.Repository using GORM.
type GormSiteRepository struct {
	db *gorm.DB
}

// NewGormSiteRepository creates a new GormSiteRepository.
func NewGormSiteRepository(db *gorm.DB) *GormSiteRepository {
	return &GormSiteRepository{db: db}
}

// FindByID returns a site by ID.
func (r *GormSiteRepository) FindByID(ctx context.Context, id uuid.UUID) (*site.Site, error) {
	var model SiteModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, site.ErrSiteNotFound
		}
		return nil, err
	}
	return toSiteDomain(&model), nil
}

// Upsert inserts or refreshes a site and pushes its capacity onto counters
// for nights from today on. A lowered cap never drops below what is already reserved.
func (r *GormSiteRepository) Upsert(ctx context.Context, s *site.Site) error {
	model := toSiteModel(s)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider_id", "name", "nightly_rate_cents", "max_bookings_per_night",
				"pricing_rules", "active", "updated_at",
			}),
		}).Create(&model).Error; err != nil {
			return err
		}
		return tx.Exec(`UPDATE capacity_nights
			SET cap = GREATEST(?, reserved_count, 1), version = version + 1, updated_at = ?
			WHERE site_id = ? AND night >= ? AND cap <> ?`,
			s.MaxBookingsPerNight(), model.UpdatedAt, s.ID(), booking.Day(time.Now()), s.MaxBookingsPerNight()).Error
	})
}

func toSiteModel(s *site.Site) SiteModel {
	return SiteModel{
		ID:                  s.ID(),
		ProviderID:          s.ProviderID(),
		Name:                s.Name(),
		NightlyRateCents:    s.NightlyRateCents(),
		MaxBookingsPerNight: s.MaxBookingsPerNight(),
		PricingRules:        datatypes.NewJSONType(s.PricingRules()),
		Active:              s.Active(),
		CreatedAt:           s.CreatedAt(),
		UpdatedAt:           s.UpdatedAt(),
	}
}

func toSiteDomain(m *SiteModel) *site.Site {
	return site.Reconstruct(
		m.ID, m.ProviderID, m.Name,
		m.NightlyRateCents, m.MaxBookingsPerNight,
		m.PricingRules.Data(), m.Active,
		m.CreatedAt, m.UpdatedAt,
	)
}
