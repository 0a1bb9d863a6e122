package users

import (
	"context"

	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetOrCreate(ctx context.Context, tgID int64, username *string, referrerID *int64) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByTelegramID(ctx context.Context, tgID int64) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	SearchByUsername(ctx context.Context, query string, limit int) ([]*models.User, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) (*models.User, error)
	Delete(ctx context.Context, id int64) error
	CountReferrals(ctx context.Context, id int64) (int64, error)
	ListReferrals(ctx context.Context, id int64, limit, offset int) ([]*models.User, error)
}
