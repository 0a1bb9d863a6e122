package servers

import (
	"context"

	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/shopspring/decimal"
)

// ListFilter narrows List results. Nil fields are ignored.
type ListFilter struct {
	Host     *string
	Location *string
	Limit    int
	Offset   int
}

// Update carries a partial update. Nil fields are left unchanged.
type Update struct {
	Name        *string
	IP          *string
	Port        *int
	Host        *string
	MonthlyCost *decimal.Decimal
	Location    *string
	APIKey      *string
}

type Repository interface {
	Create(ctx context.Context, server *models.Server) (*models.Server, error)
	GetByID(ctx context.Context, id int64) (*models.Server, error)
	List(ctx context.Context, f ListFilter) ([]*models.Server, error)
	Update(ctx context.Context, id int64, upd Update) (*models.Server, error)
	Delete(ctx context.Context, id int64) error
}
