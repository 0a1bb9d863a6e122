package services

import (
	"context"
	"errors"
	"testing"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopUp(t *testing.T) {
	t.Run("adds the exact decimal amount", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "0.10")

		got, err := e.billingSvc.TopUp(context.Background(), u.ID, decimal.RequireFromString("0.20"))
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.RequireFromString("0.30")),
			"balance = %s", got.Balance)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "10.00")

		for _, amount := range []string{"0", "-1.50"} {
			_, err := e.billingSvc.TopUp(context.Background(), u.ID, decimal.RequireFromString(amount))
			require.ErrorIs(t, err, common.ErrInvalidOperation)
		}

		after, err := e.userSvc.Get(context.Background(), u.ID)
		require.NoError(t, err)
		assert.True(t, after.Balance.Equal(decimal.RequireFromString("10.00")))
	})

	t.Run("unknown user", func(t *testing.T) {
		e := newEnv(t, "5.00")
		_, err := e.billingSvc.TopUp(context.Background(), 404, decimal.NewFromInt(5))
		require.ErrorIs(t, err, common.ErrUserNotFound)
	})

	t.Run("reactivates suspended configs once balance is positive", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "-4.00")
		srv := e.addServer(t)
		c1 := e.addConfig(t, u.ID, srv.ID, "cl-a", true)
		c2 := e.addConfig(t, u.ID, srv.ID, "cl-b", true)

		got, err := e.billingSvc.TopUp(context.Background(), u.ID, decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(1)))

		assert.ElementsMatch(t, []string{"cl-a", "cl-b"}, e.api.unsuspended)
		for _, id := range []int64{c1.ID, c2.ID} {
			cfg, err := e.configSvc.Get(context.Background(), id)
			require.NoError(t, err)
			assert.False(t, cfg.Suspended)
			assert.Nil(t, cfg.SuspendedAt)
		}
	})

	t.Run("does not reactivate while balance stays non-positive", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "-10.00")
		srv := e.addServer(t)
		e.addConfig(t, u.ID, srv.ID, "cl-a", true)

		got, err := e.billingSvc.TopUp(context.Background(), u.ID, decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(-5)))
		assert.Empty(t, e.api.unsuspended)
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("insufficient balance leaves the balance untouched", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "3.00")

		_, err := e.billingSvc.Withdraw(context.Background(), u.ID, decimal.NewFromInt(5))
		require.ErrorIs(t, err, common.ErrInsufficientBalance)

		after, err := e.userSvc.Get(context.Background(), u.ID)
		require.NoError(t, err)
		assert.True(t, after.Balance.Equal(decimal.NewFromInt(3)))
	})

	t.Run("draining to zero suspends every config", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "5.00")
		srv := e.addServer(t)
		e.addConfig(t, u.ID, srv.ID, "cl-a", false)
		e.addConfig(t, u.ID, srv.ID, "cl-b", false)

		got, err := e.billingSvc.Withdraw(context.Background(), u.ID, decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.True(t, got.Balance.IsZero())
		assert.ElementsMatch(t, []string{"cl-a", "cl-b"}, e.api.suspended)
	})

	t.Run("positive remainder keeps configs active", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "8.00")
		srv := e.addServer(t)
		e.addConfig(t, u.ID, srv.ID, "cl-a", false)

		got, err := e.billingSvc.Withdraw(context.Background(), u.ID, decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(3)))
		assert.Empty(t, e.api.suspended)
	})
}

func TestCreatePaidConfig(t *testing.T) {
	t.Run("charges after provisioning", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "0.00")
		srv := e.addServer(t)

		_, err := e.billingSvc.TopUp(context.Background(), u.ID, decimal.NewFromInt(15))
		require.NoError(t, err)

		cfg, err := e.billingSvc.CreatePaidConfig(context.Background(), CreatePaidConfigParams{
			ServerID:    srv.ID,
			OwnerID:     u.ID,
			Name:        "cl-paid",
			DisplayName: "My VPN",
			Cost:        decimal.NewFromInt(10),
		})
		require.NoError(t, err)
		assert.Equal(t, "cl-paid", cfg.Name)
		assert.Contains(t, e.api.created, "cl-paid")

		after, err := e.userSvc.Get(context.Background(), u.ID)
		require.NoError(t, err)
		assert.True(t, after.Balance.Equal(decimal.NewFromInt(5)), "balance = %s", after.Balance)
	})

	t.Run("balance equal to cost is not enough", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "10.00")
		srv := e.addServer(t)

		_, err := e.billingSvc.CreatePaidConfig(context.Background(), CreatePaidConfigParams{
			ServerID: srv.ID,
			OwnerID:  u.ID,
			Name:     "cl-paid",
			Cost:     decimal.NewFromInt(10),
		})
		require.ErrorIs(t, err, common.ErrInsufficientBalance)

		assert.Empty(t, e.api.created, "nothing should reach the server")
		after, err := e.userSvc.Get(context.Background(), u.ID)
		require.NoError(t, err)
		assert.True(t, after.Balance.Equal(decimal.NewFromInt(10)))
	})

	t.Run("provisioning failure charges nothing", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "20.00")
		srv := e.addServer(t)
		e.api.createErr = errors.New("ca unreachable")

		_, err := e.billingSvc.CreatePaidConfig(context.Background(), CreatePaidConfigParams{
			ServerID: srv.ID,
			OwnerID:  u.ID,
			Name:     "cl-paid",
			Cost:     decimal.NewFromInt(10),
		})
		require.Error(t, err)

		after, err := e.userSvc.Get(context.Background(), u.ID)
		require.NoError(t, err)
		assert.True(t, after.Balance.Equal(decimal.NewFromInt(20)))
	})
}

func TestChargeAll(t *testing.T) {
	t.Run("skips users without active configs", func(t *testing.T) {
		e := newEnv(t, "5.00")
		none := e.addUser(t, "20.00")
		srv := e.addServer(t)
		onlySuspended := e.addUser(t, "20.00")
		e.addConfig(t, onlySuspended.ID, srv.ID, "cl-s", true)

		results := e.billingSvc.ChargeAll(context.Background())
		assert.Empty(t, results)

		for _, id := range []int64{none.ID, onlySuspended.ID} {
			u, err := e.userSvc.Get(context.Background(), id)
			require.NoError(t, err)
			assert.True(t, u.Balance.Equal(decimal.NewFromInt(20)))
		}
	})

	t.Run("deducts rate times active count and suspends on exhaustion", func(t *testing.T) {
		e := newEnv(t, "4.00")
		u := e.addUser(t, "10.00")
		srv := e.addServer(t)
		e.addConfig(t, u.ID, srv.ID, "cl-1", false)
		e.addConfig(t, u.ID, srv.ID, "cl-2", false)
		e.addConfig(t, u.ID, srv.ID, "cl-3", false)

		results := e.billingSvc.ChargeAll(context.Background())
		require.Len(t, results, 1)
		assert.True(t, results[0].Amount.Equal(decimal.NewFromInt(12)))
		assert.True(t, results[0].User.Balance.Equal(decimal.NewFromInt(-2)))

		assert.ElementsMatch(t, []string{"cl-1", "cl-2", "cl-3"}, e.api.suspended)
		after, err := e.userSvc.Get(context.Background(), u.ID)
		require.NoError(t, err)
		assert.True(t, after.Balance.Equal(decimal.NewFromInt(-2)))
	})

	t.Run("keeps configs active while the balance stays positive", func(t *testing.T) {
		e := newEnv(t, "4.00")
		u := e.addUser(t, "10.00")
		srv := e.addServer(t)
		e.addConfig(t, u.ID, srv.ID, "cl-1", false)

		results := e.billingSvc.ChargeAll(context.Background())
		require.Len(t, results, 1)
		assert.True(t, results[0].User.Balance.Equal(decimal.NewFromInt(6)))
		assert.Empty(t, e.api.suspended)
	})

	t.Run("one failing user does not block the sweep", func(t *testing.T) {
		e := newEnv(t, "5.00")
		srv := e.addServer(t)
		broken := e.addUser(t, "1.00")
		e.addConfig(t, broken.ID, srv.ID, "cl-broken", false)
		healthy := e.addUser(t, "100.00")
		e.addConfig(t, healthy.ID, srv.ID, "cl-ok", false)

		e.api.suspendErr = errors.New("server down")
		e.api.failSuspendFor = "cl-broken"

		results := e.billingSvc.ChargeAll(context.Background())
		require.Len(t, results, 1, "only the healthy user produces a result")
		assert.Equal(t, healthy.ID, results[0].User.ID)
		assert.True(t, results[0].User.Balance.Equal(decimal.NewFromInt(95)))
	})

	t.Run("sweep followed by top-up reactivates", func(t *testing.T) {
		e := newEnv(t, "5.00")
		u := e.addUser(t, "3.00")
		srv := e.addServer(t)
		c := e.addConfig(t, u.ID, srv.ID, "cl-1", false)

		results := e.billingSvc.ChargeAll(context.Background())
		require.Len(t, results, 1)
		suspended, err := e.configSvc.Get(context.Background(), c.ID)
		require.NoError(t, err)
		require.True(t, suspended.Suspended)

		got, err := e.billingSvc.TopUp(context.Background(), u.ID, decimal.NewFromInt(3))
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(1)))

		active, err := e.configSvc.Get(context.Background(), c.ID)
		require.NoError(t, err)
		assert.False(t, active.Suspended)
	})
}
