package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/akazakov/vpnmanager/internal/dbx"
	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/akazakov/vpnmanager/internal/server/repositories/repomanager"
	"github.com/akazakov/vpnmanager/internal/userlock"
	"github.com/shopspring/decimal"
)

// BillingService owns every balance mutation. All arithmetic is exact
// decimal; balances derived from floats drift and are a bug class this
// package exists to eliminate.
//
// Balance-affecting flows serialize per user through a keyed lock, which
// closes the check-then-act race between concurrent paid creations.
type BillingService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	configs       *ConfigService
	locks         *userlock.Keyed
	perConfigCost decimal.Decimal
	log           logging.Logger
}

func NewBillingService(db *sql.DB, m repomanager.RepositoryManager, configService *ConfigService, perConfigCost decimal.Decimal, log logging.Logger) *BillingService {
	return &BillingService{
		db:            db,
		repomanager:   m,
		configs:       configService,
		locks:         userlock.New(),
		perConfigCost: perConfigCost,
		log:           log,
	}
}

// ChargeResult reports one charged user after a sweep, with the post-charge
// user state and the amount deducted.
type ChargeResult struct {
	User   models.User
	Amount decimal.Decimal
}

// PerConfigCost returns the charge applied per active config per sweep.
func (s *BillingService) PerConfigCost() decimal.Decimal {
	return s.perConfigCost
}

// TopUp increases the user's balance by amount and, when the resulting
// balance is positive, reactivates all suspended configs.
func (s *BillingService) TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: top-up amount must be positive", common.ErrInvalidOperation)
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	var user *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		u, err := repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		user, err = repo.UpdateBalance(ctx, userID, u.Balance.Add(amount))
		return err
	})
	if err != nil {
		return nil, err
	}

	if user.Balance.IsPositive() {
		if _, err := s.configs.UnsuspendAll(ctx, userID); err != nil {
			return nil, fmt.Errorf("reactivating configs: %w", err)
		}
	}
	return user, nil
}

// Withdraw deducts amount from the user's balance. When the balance would
// go below the requested amount the operation fails with
// ErrInsufficientBalance and nothing is debited. A resulting balance of
// zero or less suspends all of the user's configs.
func (s *BillingService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)
	return s.withdrawLocked(ctx, userID, amount)
}

// withdrawLocked is Withdraw without lock acquisition, for callers already
// holding the user's lock.
func (s *BillingService) withdrawLocked(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	var user *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		u, err := repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.Balance.LessThan(amount) {
			return common.ErrInsufficientBalance
		}
		user, err = repo.UpdateBalance(ctx, userID, u.Balance.Sub(amount))
		return err
	})
	if err != nil {
		return nil, err
	}

	if !user.Balance.IsPositive() {
		if _, err := s.configs.SuspendAll(ctx, userID); err != nil {
			return nil, fmt.Errorf("suspending configs: %w", err)
		}
	}
	return user, nil
}

// CreatePaidConfigParams carries the arguments for a paid provisioning.
type CreatePaidConfigParams struct {
	ServerID    int64
	OwnerID     int64
	Name        string
	DisplayName string
	Cost        decimal.Decimal
	UsePassword bool
}

// CreatePaidConfig provisions a config and charges its creation cost. The
// user's balance must strictly exceed the cost before provisioning starts;
// the cost is withdrawn only after the config exists. The user's lock is
// held across the whole flow so a concurrent creation cannot sneak past the
// balance check.
func (s *BillingService) CreatePaidConfig(ctx context.Context, p CreatePaidConfigParams) (*models.Config, error) {
	s.locks.Lock(p.OwnerID)
	defer s.locks.Unlock(p.OwnerID)

	user, err := s.repomanager.Users(s.db).GetByID(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}
	if user.Balance.LessThanOrEqual(p.Cost) {
		return nil, common.ErrInsufficientBalance
	}

	cfg, err := s.configs.Create(ctx, p.ServerID, p.OwnerID, p.Name, p.DisplayName, p.UsePassword)
	if err != nil {
		return nil, err
	}

	if _, err := s.withdrawLocked(ctx, p.OwnerID, p.Cost); err != nil {
		// The config exists but the charge failed; surface the error and
		// leave the config in place for the next sweep to bill.
		return cfg, fmt.Errorf("charging creation cost: %w", err)
	}
	return cfg, nil
}

// ChargeAll runs the periodic sweep: every user with active configs is
// charged count × per-config cost, and users whose balance drops to zero or
// below get all configs suspended. Users with no active configs are skipped
// entirely, without a zero-delta write.
//
// Each user is an independent unit of work; a failure for one user is
// logged and must not block the rest of the sweep.
func (s *BillingService) ChargeAll(ctx context.Context) []ChargeResult {
	usersRepo := s.repomanager.Users(s.db)
	all, err := usersRepo.List(ctx)
	if err != nil {
		s.log.Error(ctx, "charge sweep: listing users failed", "err", err)
		return nil
	}

	var results []ChargeResult
	for _, u := range all {
		res, err := s.chargeUser(ctx, u.ID)
		if err != nil {
			s.log.Error(ctx, "charge sweep: user failed", "user_id", u.ID, "err", err)
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results
}

// chargeUser charges one user and suspends their configs if the balance is
// exhausted. Returns nil when the user had nothing active to charge for.
func (s *BillingService) chargeUser(ctx context.Context, userID int64) (*ChargeResult, error) {
	s.locks.Lock(userID)

	var user *models.User
	var charge decimal.Decimal
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		active, err := s.repomanager.Configs(tx).CountActive(ctx, userID)
		if err != nil {
			return err
		}
		if active == 0 {
			return nil
		}

		repo := s.repomanager.Users(tx)
		u, err := repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		charge = s.perConfigCost.Mul(decimal.NewFromInt(int64(active)))
		user, err = repo.UpdateBalance(ctx, userID, u.Balance.Sub(charge))
		return err
	})
	s.locks.Unlock(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	if !user.Balance.IsPositive() {
		if _, err := s.configs.SuspendAll(ctx, userID); err != nil {
			return nil, fmt.Errorf("suspending configs: %w", err)
		}
	}
	return &ChargeResult{User: *user, Amount: charge}, nil
}
