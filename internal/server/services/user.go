package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/akazakov/vpnmanager/internal/server/repositories/repomanager"
)

// UserService provides account-level operations: registration keyed on
// Telegram ID, lookups, referral queries and account removal.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	configs     *ConfigService
	log         logging.Logger
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, configService *ConfigService, log logging.Logger) *UserService {
	return &UserService{db: db, repomanager: m, configs: configService, log: log}
}

// Register returns the account for the given Telegram ID, creating it on
// first contact. The referrer, if any, is recorded only at creation.
func (s *UserService) Register(ctx context.Context, tgID int64, username *string, referrerID *int64) (*models.User, error) {
	return s.repomanager.Users(s.db).GetOrCreate(ctx, tgID, username, referrerID)
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, userID)
}

func (s *UserService) GetByTelegramID(ctx context.Context, tgID int64) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByTelegramID(ctx, tgID)
}

func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	return s.repomanager.Users(s.db).List(ctx)
}

// SearchByUsername matches usernames case-insensitively on a partial match.
func (s *UserService) SearchByUsername(ctx context.Context, query string, limit int) ([]*models.User, error) {
	return s.repomanager.Users(s.db).SearchByUsername(ctx, query, limit)
}

func (s *UserService) CountReferrals(ctx context.Context, userID int64) (int64, error) {
	return s.repomanager.Users(s.db).CountReferrals(ctx, userID)
}

func (s *UserService) ListReferrals(ctx context.Context, userID int64, limit, offset int) ([]*models.User, error) {
	return s.repomanager.Users(s.db).ListReferrals(ctx, userID, limit, offset)
}

// Delete removes the account. Every config the user owns is revoked on its
// remote server first; if any revoke fails the account and the remaining
// configs stay in place, so no remote client can outlive its record.
func (s *UserService) Delete(ctx context.Context, userID int64) error {
	owned, err := s.configs.List(ctx, configListFilterForOwner(userID))
	if err != nil {
		return err
	}
	for _, cfg := range owned {
		if err := s.configs.Revoke(ctx, cfg.ID); err != nil {
			return fmt.Errorf("revoking config %d: %w", cfg.ID, err)
		}
	}
	return s.repomanager.Users(s.db).Delete(ctx, userID)
}
