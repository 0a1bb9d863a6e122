// Package services contains the business logic tying the ledger to the
// remote provisioning control plane: configuration lifecycle, billing,
// user and server management.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/gateway"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	"github.com/akazakov/vpnmanager/internal/server/repositories/repomanager"
)

// ConfigService orchestrates VPN client configurations. Every mutation talks
// to the remote control plane first and only then touches the local record,
// so a remote client never outlives its row and a row never outlives its
// remote client (except the accepted create-then-persist-failure window,
// which is compensated below).
type ConfigService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	gw          gateway.Factory
	log         logging.Logger
}

func NewConfigService(db *sql.DB, m repomanager.RepositoryManager, gw gateway.Factory, log logging.Logger) *ConfigService {
	return &ConfigService{db: db, repomanager: m, gw: gw, log: log}
}

// resolve loads a config together with its hosting server.
func (s *ConfigService) resolve(ctx context.Context, configID int64) (*models.Config, *models.Server, error) {
	cfg, err := s.repomanager.Configs(s.db).GetByID(ctx, configID)
	if err != nil {
		return nil, nil, err
	}
	srv, err := s.repomanager.Servers(s.db).GetByID(ctx, cfg.ServerID)
	if err != nil {
		return nil, nil, err
	}
	return cfg, srv, nil
}

// Create validates the server and owner, provisions the client remotely and
// then persists the local record. If the insert fails after the remote
// client already exists, a compensating revoke is attempted; when that also
// fails the orphan is logged for out-of-band reconciliation.
func (s *ConfigService) Create(ctx context.Context, serverID, ownerID int64, name, displayName string, usePassword bool) (*models.Config, error) {
	srv, err := s.repomanager.Servers(s.db).GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	user, err := s.repomanager.Users(s.db).GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !user.Balance.IsPositive() {
		return nil, common.ErrInsufficientBalance
	}

	api := s.gw(srv.IP, srv.Port, srv.APIKey)
	defer api.Close()

	if _, err := api.CreateClient(ctx, name, usePassword); err != nil {
		return nil, err
	}

	cfg, err := s.repomanager.Configs(s.db).Create(ctx, &models.Config{
		Name:        name,
		DisplayName: displayName,
		ServerID:    serverID,
		OwnerID:     ownerID,
	})
	if err != nil {
		if revokeErr := api.RevokeClient(ctx, name); revokeErr != nil {
			s.log.Error(ctx, "orphaned remote client: persist and compensating revoke both failed",
				"server_id", serverID, "name", name, "persist_err", err, "revoke_err", revokeErr)
		} else {
			s.log.Warn(ctx, "rolled back remote client after persist failure",
				"server_id", serverID, "name", name)
		}
		return nil, fmt.Errorf("persisting config: %w", err)
	}
	return cfg, nil
}

// Download fetches the raw connection profile for a config from its server.
func (s *ConfigService) Download(ctx context.Context, configID int64) ([]byte, error) {
	cfg, srv, err := s.resolve(ctx, configID)
	if err != nil {
		return nil, err
	}

	api := s.gw(srv.IP, srv.Port, srv.APIKey)
	defer api.Close()

	return api.DownloadConfig(ctx, cfg.Name)
}

// Revoke removes the remote client and then deletes the local record. When
// the remote revoke fails the record is kept and the error surfaced: local
// state must never claim a client is gone while it still exists remotely.
func (s *ConfigService) Revoke(ctx context.Context, configID int64) error {
	cfg, srv, err := s.resolve(ctx, configID)
	if err != nil {
		return err
	}

	api := s.gw(srv.IP, srv.Port, srv.APIKey)
	defer api.Close()

	if err := api.RevokeClient(ctx, cfg.Name); err != nil {
		return err
	}
	return s.repomanager.Configs(s.db).Delete(ctx, configID)
}

// Suspend blocks the client remotely and then flips the local flag.
// Suspending an already-suspended config is safe but still issues the
// remote call; callers wanting efficiency should check state first.
func (s *ConfigService) Suspend(ctx context.Context, configID int64) (*models.Config, error) {
	return s.setSuspended(ctx, configID, true)
}

// Unsuspend lifts the remote block and then clears the local flag.
func (s *ConfigService) Unsuspend(ctx context.Context, configID int64) (*models.Config, error) {
	return s.setSuspended(ctx, configID, false)
}

func (s *ConfigService) setSuspended(ctx context.Context, configID int64, suspended bool) (*models.Config, error) {
	cfg, srv, err := s.resolve(ctx, configID)
	if err != nil {
		return nil, err
	}

	api := s.gw(srv.IP, srv.Port, srv.APIKey)
	defer api.Close()

	if suspended {
		err = api.SuspendClient(ctx, cfg.Name)
	} else {
		err = api.UnsuspendClient(ctx, cfg.Name)
	}
	if err != nil {
		return nil, err
	}

	return s.repomanager.Configs(s.db).SetSuspended(ctx, configID, suspended)
}

// Rename changes the user-facing display name. The technical name is
// immutable; no remote call is involved.
func (s *ConfigService) Rename(ctx context.Context, configID int64, newDisplayName string) (*models.Config, error) {
	return s.repomanager.Configs(s.db).UpdateDisplayName(ctx, configID, newDisplayName)
}

// Get returns a single config by ID.
func (s *ConfigService) Get(ctx context.Context, configID int64) (*models.Config, error) {
	return s.repomanager.Configs(s.db).GetByID(ctx, configID)
}

// List returns configs matching the filter.
func (s *ConfigService) List(ctx context.Context, f configs.ListFilter) ([]*models.Config, error) {
	return s.repomanager.Configs(s.db).List(ctx, f)
}

// ListActive returns non-suspended configs, optionally scoped to one owner.
func (s *ConfigService) ListActive(ctx context.Context, ownerID *int64) ([]*models.Config, error) {
	suspended := false
	return s.repomanager.Configs(s.db).List(ctx, configs.ListFilter{OwnerID: ownerID, Suspended: &suspended})
}

// ListSuspended returns suspended configs, optionally scoped to one owner.
func (s *ConfigService) ListSuspended(ctx context.Context, ownerID *int64) ([]*models.Config, error) {
	suspended := true
	return s.repomanager.Configs(s.db).List(ctx, configs.ListFilter{OwnerID: ownerID, Suspended: &suspended})
}

// SuspendAll suspends every active config the user owns, one by one, and
// returns how many were processed. The operation is not atomic across
// configs: a failure partway leaves earlier configs suspended.
func (s *ConfigService) SuspendAll(ctx context.Context, ownerID int64) (int, error) {
	active, err := s.ListActive(ctx, &ownerID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, cfg := range active {
		if _, err := s.Suspend(ctx, cfg.ID); err != nil {
			return count, fmt.Errorf("suspending config %d: %w", cfg.ID, err)
		}
		count++
	}
	return count, nil
}

// UnsuspendAll reactivates every suspended config the user owns and returns
// how many were processed. Like SuspendAll, partial completion is possible.
func (s *ConfigService) UnsuspendAll(ctx context.Context, ownerID int64) (int, error) {
	suspended, err := s.ListSuspended(ctx, &ownerID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, cfg := range suspended {
		if _, err := s.Unsuspend(ctx, cfg.ID); err != nil {
			return count, fmt.Errorf("unsuspending config %d: %w", cfg.ID, err)
		}
		count++
	}
	return count, nil
}

// ListBlocked returns the client names the server currently blocks by policy.
func (s *ConfigService) ListBlocked(ctx context.Context, serverID int64) ([]string, error) {
	srv, err := s.repomanager.Servers(s.db).GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}

	api := s.gw(srv.IP, srv.Port, srv.APIKey)
	defer api.Close()

	return api.ListBlocked(ctx)
}
