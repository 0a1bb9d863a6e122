package configs

import (
	"context"

	"github.com/akazakov/vpnmanager/internal/server/models"
)

// ListFilter narrows List results. Nil fields are ignored.
type ListFilter struct {
	OwnerID   *int64
	ServerID  *int64
	Suspended *bool
	Limit     int
	Offset    int
}

type Repository interface {
	Create(ctx context.Context, cfg *models.Config) (*models.Config, error)
	GetByID(ctx context.Context, id int64) (*models.Config, error)
	List(ctx context.Context, f ListFilter) ([]*models.Config, error)
	CountActive(ctx context.Context, ownerID int64) (int, error)
	SetSuspended(ctx context.Context, id int64, suspended bool) (*models.Config, error)
	UpdateDisplayName(ctx context.Context, id int64, displayName string) (*models.Config, error)
	Delete(ctx context.Context, id int64) error
}
