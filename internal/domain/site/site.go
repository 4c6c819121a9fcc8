package site

import (
	"fmt"
	"strings"
	"time"

	"github.com/campbook/service-reservation/internal/domain/pricing"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/google/uuid"
)

var ErrSiteNotFound = &domain.DomainError{Err: domain.ErrNotFound, Code: "SITE_NOT_FOUND", Message: "site not found"}

// Site is the local projection of a campsite listing owned by the catalogue
// service. It carries only what pricing and admission need.
type Site struct {
	id                  uuid.UUID
	providerID          uuid.UUID
	name                string
	nightlyRateCents    int64
	maxBookingsPerNight int
	pricingRules        pricing.Rules
	active              bool
	createdAt           time.Time
	updatedAt           time.Time
}

// NewSite validates and builds a Site.
func NewSite(id, providerID uuid.UUID, name string, nightlyRateCents int64, maxBookingsPerNight int, rules pricing.Rules, active bool) (*Site, error) {
	name = strings.TrimSpace(name)
	if id == uuid.Nil || providerID == uuid.Nil {
		return nil, domain.NewValidationError("INVALID_SITE", "site and provider ids are required")
	}
	if nightlyRateCents <= 0 {
		return nil, domain.NewValidationError("INVALID_SITE", "nightly rate must be positive")
	}
	if maxBookingsPerNight < 1 {
		return nil, domain.NewValidationError("INVALID_SITE", fmt.Sprintf("max bookings per night must be at least 1, got %d", maxBookingsPerNight))
	}

	now := time.Now().UTC()
	return &Site{
		id:                  id,
		providerID:          providerID,
		name:                name,
		nightlyRateCents:    nightlyRateCents,
		maxBookingsPerNight: maxBookingsPerNight,
		pricingRules:        rules,
		active:              active,
		createdAt:           now,
		updatedAt:           now,
	}, nil
}

// Reconstruct rebuilds a Site from persistence.
func Reconstruct(id, providerID uuid.UUID, name string, nightlyRateCents int64, maxBookingsPerNight int, rules pricing.Rules, active bool, createdAt, updatedAt time.Time) *Site {
	return &Site{
		id: id, providerID: providerID, name: name,
		nightlyRateCents: nightlyRateCents, maxBookingsPerNight: maxBookingsPerNight,
		pricingRules: rules, active: active,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

// Deactivate stops new admissions for the site.
func (s *Site) Deactivate() {
	s.active = false
	s.updatedAt = time.Now().UTC()
}

// Quote prices a stay at this site.
func (s *Site) Quote(checkIn, checkOut time.Time, peakOccupancyPct int, now time.Time) (pricing.Quote, error) {
	return pricing.Calculate(pricing.Input{
		NightlyRateCents: s.nightlyRateCents,
		CheckIn:          checkIn,
		CheckOut:         checkOut,
		PeakOccupancyPct: peakOccupancyPct,
		Now:              now,
		Rules:            s.pricingRules,
	})
}

// Getters.
func (s *Site) ID() uuid.UUID               { return s.id }
func (s *Site) ProviderID() uuid.UUID       { return s.providerID }
func (s *Site) Name() string                { return s.name }
func (s *Site) NightlyRateCents() int64     { return s.nightlyRateCents }
func (s *Site) MaxBookingsPerNight() int    { return s.maxBookingsPerNight }
func (s *Site) PricingRules() pricing.Rules { return s.pricingRules }
func (s *Site) Active() bool                { return s.active }
func (s *Site) CreatedAt() time.Time        { return s.createdAt }
func (s *Site) UpdatedAt() time.Time        { return s.updatedAt }
