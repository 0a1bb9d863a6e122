package repomanager

import (
	"context"
	"database/sql"

	"github.com/akazakov/vpnmanager/internal/cryptox"
	"github.com/akazakov/vpnmanager/internal/dbx"
	"github.com/akazakov/vpnmanager/internal/server/migrations"
	"github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	"github.com/akazakov/vpnmanager/internal/server/repositories/servers"
	"github.com/akazakov/vpnmanager/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager builds PostgreSQL repositories. The credential
// cipher is threaded into the servers repository so API keys stay encrypted
// at rest.
type PostgresRepositoryManager struct {
	cipher *cryptox.Cipher
}

func NewPostgresRepositoryManager(cipher *cryptox.Cipher) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{cipher: cipher}
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Servers(db dbx.DBTX) servers.Repository {
	return servers.NewPostgresRepository(db, m.cipher)
}

func (m *PostgresRepositoryManager) Configs(db dbx.DBTX) configs.Repository {
	return configs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}
