// Package configs provides the PostgreSQL-backed repository for VPN client
// configurations.
package configs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/akazakov/vpnmanager/internal/dbx"
	"github.com/akazakov/vpnmanager/internal/server/models"
)

const configColumns = "id, name, display_name, server_id, owner_id, created_at, suspended, suspended_at"

// PostgresRepository implements config storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanConfig(row *sql.Row) (*models.Config, error) {
	var c models.Config
	err := row.Scan(&c.ID, &c.Name, &c.DisplayName, &c.ServerID, &c.OwnerID, &c.CreatedAt, &c.Suspended, &c.SuspendedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrConfigNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, cfg *models.Config) (*models.Config, error) {
	query := `
		INSERT INTO configs (name, display_name, server_id, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + configColumns
	return scanConfig(r.db.QueryRowContext(ctx, query, cfg.Name, cfg.DisplayName, cfg.ServerID, cfg.OwnerID))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Config, error) {
	query := `SELECT ` + configColumns + ` FROM configs WHERE id = $1`
	return scanConfig(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*models.Config, error) {
	var conds []string
	var args []any
	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		conds = append(conds, "owner_id = $"+strconv.Itoa(len(args)))
	}
	if f.ServerID != nil {
		args = append(args, *f.ServerID)
		conds = append(conds, "server_id = $"+strconv.Itoa(len(args)))
	}
	if f.Suspended != nil {
		args = append(args, *f.Suspended)
		conds = append(conds, "suspended = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + configColumns + ` FROM configs`
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
		return nil, fmt.Errorf("failed to select configs: %w", err)
	}
	defer rows.Close()

	var result []*models.Config
	for rows.Next() {
		var c models.Config
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.ServerID, &c.OwnerID, &c.CreatedAt, &c.Suspended, &c.SuspendedAt); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountActive returns the number of non-suspended configs the user owns.
// The charge sweep uses this instead of loading full rows.
func (r *PostgresRepository) CountActive(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM configs WHERE owner_id = $1 AND suspended = FALSE`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// SetSuspended flips the suspension flag. suspended_at is stamped on suspend
// and cleared on unsuspend.
func (r *PostgresRepository) SetSuspended(ctx context.Context, id int64, suspended bool) (*models.Config, error) {
	query := `
		UPDATE configs SET
			suspended = $2,
			suspended_at = CASE WHEN $2 THEN now() ELSE NULL END
		WHERE id = $1
		RETURNING ` + configColumns
	return scanConfig(r.db.QueryRowContext(ctx, query, id, suspended))
}

// UpdateDisplayName renames the user-facing label. The technical name column
// is deliberately not touched by any update in this package.
func (r *PostgresRepository) UpdateDisplayName(ctx context.Context, id int64, displayName string) (*models.Config, error) {
	query := `
		UPDATE configs SET display_name = $2
		WHERE id = $1
		RETURNING ` + configColumns
	return scanConfig(r.db.QueryRowContext(ctx, query, id, displayName))
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrConfigNotFound
	}
	return nil
}
