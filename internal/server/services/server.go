package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/gateway"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	"github.com/akazakov/vpnmanager/internal/server/repositories/repomanager"
	"github.com/akazakov/vpnmanager/internal/server/repositories/servers"
)

func configListFilterForOwner(ownerID int64) configs.ListFilter {
	return configs.ListFilter{OwnerID: &ownerID}
}

// ServerService manages the fleet of remote VPN servers.
type ServerService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	gw          gateway.Factory
	log         logging.Logger
}

func NewServerService(db *sql.DB, m repomanager.RepositoryManager, gw gateway.Factory, log logging.Logger) *ServerService {
	return &ServerService{db: db, repomanager: m, gw: gw, log: log}
}

// Create registers a server. The repository encrypts the control-plane
// credential before it reaches the database.
func (s *ServerService) Create(ctx context.Context, server *models.Server) (*models.Server, error) {
	return s.repomanager.Servers(s.db).Create(ctx, server)
}

func (s *ServerService) Get(ctx context.Context, serverID int64) (*models.Server, error) {
	return s.repomanager.Servers(s.db).GetByID(ctx, serverID)
}

func (s *ServerService) List(ctx context.Context, f servers.ListFilter) ([]*models.Server, error) {
	return s.repomanager.Servers(s.db).List(ctx, f)
}

// Update applies a partial update; nil fields keep their stored value.
func (s *ServerService) Update(ctx context.Context, serverID int64, upd servers.Update) (*models.Server, error) {
	return s.repomanager.Servers(s.db).Update(ctx, serverID, upd)
}

// Delete removes a server. Every client identity hosted on it is revoked
// remotely first; only then is the row deleted, cascading over the local
// config records. A failed revoke aborts the deletion.
func (s *ServerService) Delete(ctx context.Context, serverID int64) error {
	srv, err := s.repomanager.Servers(s.db).GetByID(ctx, serverID)
	if err != nil {
		return err
	}

	hosted, err := s.repomanager.Configs(s.db).List(ctx, configs.ListFilter{ServerID: &serverID})
	if err != nil {
		return err
	}

	if len(hosted) > 0 {
		api := s.gw(srv.IP, srv.Port, srv.APIKey)
		defer api.Close()

		for _, cfg := range hosted {
			if err := api.RevokeClient(ctx, cfg.Name); err != nil {
				return fmt.Errorf("revoking client %q: %w", cfg.Name, err)
			}
		}
	}

	return s.repomanager.Servers(s.db).Delete(ctx, serverID)
}
