package site

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for the site projection.
type Repository interface {
	// FindByID returns ErrSiteNotFound when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*Site, error)
	// Upsert stores s and applies its capacity to nights that have not happened yet.
	Upsert(ctx context.Context, s *Site) error
}
