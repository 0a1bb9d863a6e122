// Package servers provides the PostgreSQL-backed repository for VPN servers.
// The control-plane credential is encrypted before it touches the database
// and decrypted on the way out; only this package sees the ciphertext.
package servers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/akazakov/vpnmanager/internal/cryptox"
	"github.com/akazakov/vpnmanager/internal/dbx"
	"github.com/akazakov/vpnmanager/internal/server/models"
)

const serverColumns = "id, name, ip, port, host, monthly_cost, location, api_key"

// PostgresRepository implements server storage over a dbx.DBTX.
type PostgresRepository struct {
	db     dbx.DBTX
	cipher *cryptox.Cipher
}

// NewPostgresRepository constructs a repository bound to the given DBTX and
// credential cipher.
func NewPostgresRepository(db dbx.DBTX, cipher *cryptox.Cipher) *PostgresRepository {
	return &PostgresRepository{db: db, cipher: cipher}
}

func (r *PostgresRepository) scanServer(row *sql.Row) (*models.Server, error) {
	var s models.Server
	var encKey []byte
	err := row.Scan(&s.ID, &s.Name, &s.IP, &s.Port, &s.Host, &s.MonthlyCost, &s.Location, &encKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrServerNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.APIKey, err = r.cipher.DecryptString(encKey)
	if err != nil {
		return nil, fmt.Errorf("credential decrypt: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, server *models.Server) (*models.Server, error) {
	encKey, err := r.cipher.EncryptString(server.APIKey)
	if err != nil {
		return nil, fmt.Errorf("credential encrypt: %w", err)
	}

	query := `
		INSERT INTO servers (name, ip, port, host, monthly_cost, location, api_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + serverColumns
	return r.scanServer(r.db.QueryRowContext(ctx, query,
		server.Name, server.IP, server.Port, server.Host, server.MonthlyCost, server.Location, encKey))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = $1`
	return r.scanServer(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*models.Server, error) {
	var conds []string
	var args []any
	if f.Host != nil {
		args = append(args, *f.Host)
		conds = append(conds, "host = $"+strconv.Itoa(len(args)))
	}
	if f.Location != nil {
		args = append(args, *f.Location)
		conds = append(conds, "location = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + serverColumns + ` FROM servers`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select servers: %w", err)
	}
	defer rows.Close()

	var result []*models.Server
	for rows.Next() {
		var s models.Server
		var encKey []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.IP, &s.Port, &s.Host, &s.MonthlyCost, &s.Location, &encKey); err != nil {
			return nil, err
		}
		s.APIKey, err = r.cipher.DecryptString(encKey)
		if err != nil {
			return nil, fmt.Errorf("credential decrypt: %w", err)
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update applies the non-nil fields of upd and returns the updated server.
// COALESCE keeps the stored value for every field passed as NULL.
func (r *PostgresRepository) Update(ctx context.Context, id int64, upd Update) (*models.Server, error) {
	var encKey []byte
	if upd.APIKey != nil {
		var err error
		encKey, err = r.cipher.EncryptString(*upd.APIKey)
		if err != nil {
			return nil, fmt.Errorf("credential encrypt: %w", err)
		}
	}

	query := `
		UPDATE servers SET
			name = COALESCE($2, name),
			ip = COALESCE($3, ip),
			port = COALESCE($4, port),
			host = COALESCE($5, host),
			monthly_cost = COALESCE($6, monthly_cost),
			location = COALESCE($7, location),
			api_key = COALESCE($8, api_key)
		WHERE id = $1
		RETURNING ` + serverColumns
	return r.scanServer(r.db.QueryRowContext(ctx, query,
		id, upd.Name, upd.IP, upd.Port, upd.Host, upd.MonthlyCost, upd.Location, encKey))
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrServerNotFound
	}
	return nil
}
