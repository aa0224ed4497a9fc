// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package margin_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"go.uber.org/mock/gomock"

	"github.com/luxfi/lendingvm/vms/lendingvm/config"
	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/margin"
)

func TestOpenAndClose(t *testing.T) {
	e := newEnv(t)
	require := e.require

	intentID := e.expectSwap("usdc", tokens(2_000), "wnative")
	positionID, err := e.margin.Open(e.store, call(alice, now), prices(10), openRequest())
	require.NoError(err)

	pos := e.account(alice).Positions[positionID]
	require.Equal(margin.Opening, pos.State)
	require.Equal(*intentID, pos.PendingSwap)
	require.Zero(e.asset("usdc").MarginPendingDebt.Cmp(tokens(2_000)))
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(100)))

	// No unwinding while the open swap is in flight.
	err = e.margin.Close(e.store, call(alice, now), prices(10), e.unwind(positionID, 1_900))
	require.ErrorIs(err, margin.ErrPositionBusy)

	require.ErrorIs(e.margin.OnSwapResolved(e.store, now, *intentID, true, tokens(100)), margin.ErrSlippage)
	require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, true, tokens(200)))

	usdc := e.asset("usdc")
	require.Equal(margin.Open, pos.State)
	require.Zero(pos.PositionAmount.Cmp(tokens(200)))
	require.Zero(pos.UnpaidFee.Cmp(tokens(1)))
	require.Zero(usdc.MarginPendingDebt.Sign())
	require.Zero(usdc.MarginDebt.Balance.Cmp(tokens(2_000)))
	require.Zero(e.asset("wnative").MarginPosition.Cmp(tokens(200)))

	intentID = e.expectSwap("wnative", tokens(200), "usdc")
	require.NoError(e.margin.Close(e.store, call(alice, now), prices(10), e.unwind(positionID, 1_900)))
	require.Equal(margin.Closing, pos.State)
	require.Zero(e.asset("wnative").MarginPosition.Sign())

	require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, true, tokens(2_100)))
	require.Empty(e.account(alice).Positions)
	require.Equal(margin.Closed, pos.State)
	// 100 free, 1000 collateral back and 2100 - 2000 debt - 1 fee.
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(1_199)))
	require.Zero(usdc.MarginDebt.Balance.Sign())
	require.Zero(usdc.Reserved.Cmp(tokens(1)))

	_, err = e.store.GetSwapIntent(*intentID)
	require.ErrorIs(err, margin.ErrSwapIntentNotFound)
}

func TestOpenSwapFailureReleasesCollateral(t *testing.T) {
	e := newEnv(t)
	require := e.require

	intentID := e.expectSwap("usdc", tokens(2_000), "wnative")
	positionID, err := e.margin.Open(e.store, call(alice, now), prices(10), openRequest())
	require.NoError(err)
	require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, false, nil))

	account := e.account(alice)
	require.NotContains(account.Positions, positionID)
	require.Zero(account.SuppliedShares("usdc").Cmp(tokens(1_100)))
	require.Zero(e.asset("usdc").MarginPendingDebt.Sign())
	require.Zero(e.asset("usdc").MarginDebt.Balance.Sign())
}

func TestOpenRejects(t *testing.T) {
	tests := []struct {
		name     string
		opts     []func(*config.Config)
		setup    func(*env)
		modify   func(*margin.OpenRequest)
		expected error
	}{
		{
			name: "same asset",
			modify: func(r *margin.OpenRequest) {
				r.PositionAsset = "usdc"
			},
			expected: margin.ErrSameAsset,
		},
		{
			name: "zero collateral",
			modify: func(r *margin.OpenRequest) {
				r.CollateralAmount = new(big.Int)
			},
			expected: ledger.ErrZeroAmount,
		},
		{
			name: "collateral not held",
			modify: func(r *margin.OpenRequest) {
				r.CollateralAmount = tokens(5_000)
			},
			expected: ledger.ErrInsufficientShares,
		},
		{
			name: "leverage",
			modify: func(r *margin.OpenRequest) {
				r.DebtAmount = tokens(6_000)
				r.MinPositionAmount = tokens(600)
			},
			expected: margin.ErrLeverageTooHigh,
		},
		{
			name: "below safety buffer",
			modify: func(r *margin.OpenRequest) {
				r.MinPositionAmount = tokens(50)
			},
			expected: margin.ErrUnhealthyOpen,
		},
		{
			name: "no liquidity",
			modify: func(r *margin.OpenRequest) {
				r.DebtAmount = tokens(4_000)
				r.MinPositionAmount = tokens(400)
			},
			opts: []func(*config.Config){func(c *config.Config) {
				c.Margin.MaxLeverageRate = 100_000
			}},
			setup: func(e *env) {
				// Carol's supply is lent out elsewhere.
				e.asset("usdc").Borrowed.Balance.Set(tokens(9_000))
			},
			expected: ledger.ErrInsufficientLiquidity,
		},
		{
			name:   "too many positions",
			modify: func(*margin.OpenRequest) {},
			opts: []func(*config.Config){func(c *config.Config) {
				c.Margin.MaxNumPositions = 0
			}},
			expected: margin.ErrTooManyPositions,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newEnv(t, test.opts...)
			if test.setup != nil {
				test.setup(e)
			}
			req := openRequest()
			test.modify(req)
			_, err := e.margin.Open(e.store, call(alice, now), prices(10), req)
			e.require.ErrorIs(err, test.expected)
		})
	}
}

func TestDecrease(t *testing.T) {
	e := newEnv(t)
	require := e.require
	positionID := e.open()

	req := e.unwind(positionID, 900)
	req.Amount = tokens(100)
	intentID := e.expectSwap("wnative", tokens(100), "usdc")
	require.NoError(e.margin.Decrease(e.store, call(alice, now), prices(10), req))

	pos := e.account(alice).Positions[positionID]
	require.Equal(margin.Decreasing, pos.State)
	require.Zero(pos.PositionAmount.Cmp(tokens(100)))

	require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, true, tokens(1_000)))
	require.Equal(margin.Open, pos.State)
	require.Zero(pos.UnpaidFee.Sign())
	require.Zero(pos.DebtShares.Cmp(tokens(1_001)))
	require.Zero(e.asset("usdc").MarginDebt.Balance.Cmp(tokens(1_001)))
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(100)))

	require.ErrorIs(e.margin.Decrease(e.store, call(alice, now), prices(10), e.unwind(positionID, 1)), lending.ErrAmountRequired)
}

func TestFailedUnwindRestoresPosition(t *testing.T) {
	e := newEnv(t)
	require := e.require
	positionID := e.open()

	intentID := e.expectSwap("wnative", tokens(200), "usdc")
	require.NoError(e.margin.Close(e.store, call(alice, now), prices(10), e.unwind(positionID, 1_900)))
	require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, false, nil))

	pos := e.account(alice).Positions[positionID]
	require.Equal(margin.Open, pos.State)
	require.Zero(pos.PositionAmount.Cmp(tokens(200)))
	require.Zero(e.asset("wnative").MarginPosition.Cmp(tokens(200)))
}

func TestMinPositionDuration(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Margin.MinPositionDuration = time.Hour
	})
	positionID := e.open()

	err := e.margin.Close(e.store, call(alice, now), prices(10), e.unwind(positionID, 1_900))
	e.require.ErrorIs(err, margin.ErrTooEarly)
}

// At $6 the position breaches the 10% safety buffer. The surplus after debt
// and fees is split between liquidator, protocol and owner.
func TestLiquidate(t *testing.T) {
	e := newEnv(t)
	require := e.require
	positionID := e.open()

	req := e.unwind(positionID, 1_100)
	require.ErrorIs(e.margin.Liquidate(e.store, call(bob, now), prices(8), req), margin.ErrPositionHealthy)
	require.ErrorIs(e.margin.Liquidate(e.store, call(alice, now), prices(6), req), lending.ErrSelfLiquidation)

	intentID := e.expectSwap("wnative", tokens(200), "usdc")
	require.NoError(e.margin.Liquidate(e.store, call(bob, now), prices(6), req))
	require.Equal(margin.Liquidating, e.account(alice).Positions[positionID].State)

	require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, true, tokens(2_201)))
	require.Empty(e.account(alice).Positions)

	// Surplus of 200: 30% to the liquidator, 20% to the reserve.
	require.Zero(e.account(bob).SuppliedShares("usdc").Cmp(tokens(60)))
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(1_200)))
	require.Zero(e.asset("usdc").Reserved.Cmp(tokens(41)))
}

// Without an open fee the position owes 2000 and the 10% buffer asks for
// 2200, which it holds exactly at $6.
func TestLiquidateAtBuffer(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Margin.OpenPositionFeeBps = 0
	})
	require := e.require
	positionID := e.open()

	req := e.unwind(positionID, 1_000)
	require.ErrorIs(e.margin.Liquidate(e.store, call(bob, now), prices(6), req), margin.ErrPositionHealthy)

	direct := &lending.MarginDirectLiquidate{Owner: alice, PositionID: positionID}
	err := e.lending.Execute(e.store, call(bob, now), prices(6), []lending.Action{direct})
	require.ErrorIs(err, margin.ErrPositionHealthy)
	require.Equal(margin.Open, e.account(alice).Positions[positionID].State)

	e.expectSwap("wnative", tokens(200), "usdc")
	require.NoError(e.margin.Liquidate(e.store, call(bob, now), prices(5), req))
	require.Equal(margin.Liquidating, e.account(alice).Positions[positionID].State)
}

func TestLiquidateExpired(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Margin.MaxPositionDuration = time.Hour
	})
	positionID := e.open()

	later := now + uint64(2*time.Hour)
	e.expectSwap("wnative", tokens(200), "usdc")
	e.require.NoError(e.margin.Liquidate(e.store, call(bob, later), pricesAt(later, 10), e.unwind(positionID, 1_900)))
}

// Proceeds that cannot cover the debt consume same-asset collateral first,
// then the reserve, and the rest is recorded as protocol debt.
func TestForceClose(t *testing.T) {
	e := newEnv(t)
	require := e.require
	positionID := e.open()

	req := e.unwind(positionID, 700)
	require.ErrorIs(e.margin.ForceClose(e.store, call(carol, now), prices(6), req), margin.ErrNotUnderwater)

	intentID := e.expectSwap("wnative", tokens(200), "usdc")
	require.NoError(e.margin.ForceClose(e.store, call(carol, now), prices(4), req))
	require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, true, tokens(801)))

	usdc := e.asset("usdc")
	require.Empty(e.account(alice).Positions)
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(100)))
	require.Zero(usdc.MarginDebt.Balance.Sign())
	require.Zero(usdc.MarginDebt.Shares.Sign())
	require.Zero(usdc.Reserved.Sign())
	require.Zero(usdc.ProtocolDebt.Cmp(tokens(199)))
}

func TestDirectLiquidate(t *testing.T) {
	e := newEnv(t)
	require := e.require
	positionID := e.open()

	require.NoError(e.lending.Deposit(e.store, call(bob, now), "usdc", tokens(2_000), []lending.Action{
		&lending.IncreaseCollateral{AssetAmount: lending.AssetAmount{Asset: "usdc"}},
	}))

	action := &lending.MarginDirectLiquidate{Owner: alice, PositionID: positionID}
	err := e.lending.Execute(e.store, call(bob, now), prices(8), []lending.Action{action})
	require.ErrorIs(err, margin.ErrPositionHealthy)

	require.NoError(e.lending.Execute(e.store, call(bob, now), prices(6), []lending.Action{
		action,
		&lending.IncreaseCollateral{AssetAmount: lending.AssetAmount{Asset: "wnative"}},
	}))

	require.Empty(e.account(alice).Positions)
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(100)))

	principal, err := e.store.GetPrincipal(bob)
	require.NoError(err)
	regular, ok := principal.Position(lending.RegularPositionName)
	require.True(ok)
	shares := regular.Balances()
	require.Zero(shares.Borrowed["usdc"].Cmp(tokens(2_001)))
	require.Zero(shares.Collateral["wnative"].Cmp(tokens(200)))
	require.Zero(principal.SuppliedShares("usdc").Cmp(tokens(1_000)))

	usdc := e.asset("usdc")
	require.Zero(usdc.MarginDebt.Balance.Sign())
	require.Zero(usdc.Borrowed.Balance.Cmp(tokens(2_001)))
	require.Zero(usdc.Reserved.Cmp(tokens(1)))
	require.Zero(e.asset("wnative").MarginPosition.Sign())
}

func TestMarginWithdrawCompensation(t *testing.T) {
	e := newEnv(t)
	require := e.require

	var intentID ids.ID
	e.transferer.EXPECT().Transfer(gomock.Any(), ledger.AssetID("usdc"), alice, gomock.Any()).DoAndReturn(
		func(id ids.ID, _ ledger.AssetID, _ ids.ShortID, amount *big.Int) error {
			intentID = id
			require.Zero(amount.Cmp(tokens(100)))
			return nil
		},
	)
	require.NoError(e.margin.Withdraw(e.store, call(alice, now), "usdc", tokens(100)))
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(1_000)))

	require.NoError(e.lending.OnTransferResolved(e.store, now, intentID, false))
	require.Zero(e.account(alice).SuppliedShares("usdc").Cmp(tokens(1_100)))
}
