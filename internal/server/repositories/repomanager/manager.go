// Package repomanager exposes the repository set behind typed accessors.
// Services ask the manager for a repository bound to either the pooled
// *sql.DB or an open transaction, so the same repository code serves both
// transactional and plain reads.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/akazakov/vpnmanager/internal/dbx"
	"github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	"github.com/akazakov/vpnmanager/internal/server/repositories/servers"
	"github.com/akazakov/vpnmanager/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Servers(db dbx.DBTX) servers.Repository
	Configs(db dbx.DBTX) configs.Repository
}
