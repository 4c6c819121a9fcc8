package application

import (
	"context"

	"github.com/campbook/service-reservation/internal/domain/pricing"
	"github.com/campbook/service-reservation/internal/domain/site"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertSiteCommand carries a campsite listing as published by the catalogue.
type UpsertSiteCommand struct {
	ID                  uuid.UUID
	ProviderID          uuid.UUID
	Name                string
	NightlyRateCents    int64
	MaxBookingsPerNight int
	PricingRules        pricing.Rules
	Active              bool
}

// SiteService maintains the local site projection.
type SiteService struct {
	repo   site.Repository
	logger *zap.Logger
}

// NewSiteService creates a new SiteService.
func NewSiteService(repo site.Repository, logger *zap.Logger) *SiteService {
	return &SiteService{repo: repo, logger: logger}
}

// UpsertSite stores or refreshes a site. A changed cap only affects future admissions.
func (s *SiteService) UpsertSite(ctx context.Context, cmd UpsertSiteCommand) error {
	st, err := site.NewSite(cmd.ID, cmd.ProviderID, cmd.Name, cmd.NightlyRateCents, cmd.MaxBookingsPerNight, cmd.PricingRules, cmd.Active)
	if err != nil {
		return err
	}
	if err := s.repo.Upsert(ctx, st); err != nil {
		return err
	}
	s.logger.Info("site upserted",
		zap.String("site_id", cmd.ID.String()),
		zap.Int("max_bookings_per_night", cmd.MaxBookingsPerNight),
		zap.Bool("active", cmd.Active),
	)
	return nil
}

// DeactivateSite stops new admissions for a site. Existing bookings are untouched.
func (s *SiteService) DeactivateSite(ctx context.Context, id uuid.UUID) error {
	st, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !st.Active() {
		return nil
	}
	st.Deactivate()
	if err := s.repo.Upsert(ctx, st); err != nil {
		return err
	}
	s.logger.Info("site deactivated", zap.String("site_id", id.String()))
	return nil
}
