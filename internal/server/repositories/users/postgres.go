// Package users provides the PostgreSQL-backed repository for platform
// accounts and their balances.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/akazakov/vpnmanager/internal/dbx"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/shopspring/decimal"
)

const userColumns = "id, tg_id, username, balance, created_at, referrer_id"

// PostgresRepository implements user storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.Balance, &u.CreatedAt, &u.ReferrerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &u, nil
}

// GetOrCreate returns the user with the given Telegram ID, inserting a fresh
// zero-balance row on first contact. The referrer is only recorded at
// creation time and never updated afterwards.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, tgID int64, username *string, referrerID *int64) (*models.User, error) {
	u, err := r.GetByTelegramID(ctx, tgID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, common.ErrUserNotFound) {
		return nil, err
	}

	query := `
		INSERT INTO users (tg_id, username, referrer_id)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, tgID, username, referrerID))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByTelegramID(ctx context.Context, tgID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tg_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, tgID))
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`
	return r.queryUsers(ctx, query)
}

// SearchByUsername matches usernames case-insensitively on a partial match.
func (r *PostgresRepository) SearchByUsername(ctx context.Context, search string, limit int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username ILIKE $1 ORDER BY id LIMIT $2`
	return r.queryUsers(ctx, query, "%"+search+"%", limit)
}

// UpdateBalance sets the user's balance to the given exact value and returns
// the updated row. The balance is always written as a whole value, never as
// a relative delta, so the caller's arithmetic happens on decimals in memory.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) (*models.User, error) {
	query := `
		UPDATE users SET balance = $2
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id, balance))
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) CountReferrals(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE referrer_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListReferrals(ctx context.Context, id int64, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referrer_id = $1 ORDER BY id LIMIT $2 OFFSET $3`
	return r.queryUsers(ctx, query, id, limit, offset)
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select users: %w", err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.Username, &u.Balance, &u.CreatedAt, &u.ReferrerID); err != nil {
			return nil, err
		}
		result = append(result, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
