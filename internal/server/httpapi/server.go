// Package httpapi exposes the admin REST API: operator login plus management
// of users, servers and configs. Everything except login requires a bearer
// token issued by POST /api/login.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	"github.com/akazakov/vpnmanager/internal/server/repositories/servers"
	"github.com/akazakov/vpnmanager/internal/server/services"
	"github.com/shopspring/decimal"
)

// UserService is the slice of the user service the API consumes.
type UserService interface {
	Get(ctx context.Context, userID int64) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	SearchByUsername(ctx context.Context, query string, limit int) ([]*models.User, error)
	CountReferrals(ctx context.Context, userID int64) (int64, error)
	ListReferrals(ctx context.Context, userID int64, limit, offset int) ([]*models.User, error)
	Delete(ctx context.Context, userID int64) error
}

// ServerService is the slice of the server service the API consumes.
type ServerService interface {
	Create(ctx context.Context, server *models.Server) (*models.Server, error)
	Get(ctx context.Context, serverID int64) (*models.Server, error)
	List(ctx context.Context, f servers.ListFilter) ([]*models.Server, error)
	Update(ctx context.Context, serverID int64, upd servers.Update) (*models.Server, error)
	Delete(ctx context.Context, serverID int64) error
}

// ConfigService is the slice of the config service the API consumes.
type ConfigService interface {
	Get(ctx context.Context, configID int64) (*models.Config, error)
	List(ctx context.Context, f configs.ListFilter) ([]*models.Config, error)
	Download(ctx context.Context, configID int64) ([]byte, error)
	Revoke(ctx context.Context, configID int64) error
	Suspend(ctx context.Context, configID int64) (*models.Config, error)
	Unsuspend(ctx context.Context, configID int64) (*models.Config, error)
	Rename(ctx context.Context, configID int64, newDisplayName string) (*models.Config, error)
	ListBlocked(ctx context.Context, serverID int64) ([]string, error)
}

// BillingService is the slice of the billing service the API consumes.
type BillingService interface {
	TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error)
	Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error)
	CreatePaidConfig(ctx context.Context, p services.CreatePaidConfigParams) (*models.Config, error)
}

// Options carries the static settings the API needs beyond its services.
type Options struct {
	// AdminPasswordHash is the bcrypt hash login passwords are checked
	// against. An empty hash rejects every login.
	AdminPasswordHash string

	// SecretKey signs and verifies admin tokens.
	SecretKey []byte

	// TokenValidity is the lifetime of issued tokens.
	TokenValidity time.Duration

	// CreationCost is charged for every config created through the API.
	CreationCost decimal.Decimal
}

// Server is the admin API over the domain services.
type Server struct {
	users   UserService
	servers ServerService
	configs ConfigService
	billing BillingService
	opts    Options
	log     logging.Logger
}

func NewServer(users UserService, serverSvc ServerService, configSvc ConfigService, billing BillingService, opts Options, log logging.Logger) *Server {
	return &Server{
		users:   users,
		servers: serverSvc,
		configs: configSvc,
		billing: billing,
		opts:    opts,
		log:     log,
	}
}

// Handler returns the routed HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.Handle("GET /api/users", s.auth(s.handleListUsers))
	mux.Handle("GET /api/users/{id}", s.auth(s.handleGetUser))
	mux.Handle("DELETE /api/users/{id}", s.auth(s.handleDeleteUser))
	mux.Handle("GET /api/users/{id}/referrals", s.auth(s.handleListReferrals))
	mux.Handle("POST /api/users/{id}/topup", s.auth(s.handleTopUp))
	mux.Handle("POST /api/users/{id}/withdraw", s.auth(s.handleWithdraw))

	mux.Handle("POST /api/servers", s.auth(s.handleCreateServer))
	mux.Handle("GET /api/servers", s.auth(s.handleListServers))
	mux.Handle("GET /api/servers/{id}", s.auth(s.handleGetServer))
	mux.Handle("PATCH /api/servers/{id}", s.auth(s.handleUpdateServer))
	mux.Handle("DELETE /api/servers/{id}", s.auth(s.handleDeleteServer))
	mux.Handle("GET /api/servers/{id}/blocked", s.auth(s.handleListBlocked))

	mux.Handle("POST /api/configs", s.auth(s.handleCreateConfig))
	mux.Handle("GET /api/configs", s.auth(s.handleListConfigs))
	mux.Handle("GET /api/configs/{id}", s.auth(s.handleGetConfig))
	mux.Handle("DELETE /api/configs/{id}", s.auth(s.handleRevokeConfig))
	mux.Handle("POST /api/configs/{id}/suspend", s.auth(s.handleSuspendConfig))
	mux.Handle("POST /api/configs/{id}/unsuspend", s.auth(s.handleUnsuspendConfig))
	mux.Handle("POST /api/configs/{id}/rename", s.auth(s.handleRenameConfig))
	mux.Handle("GET /api/configs/{id}/download", s.auth(s.handleDownloadConfig))

	return mux
}
