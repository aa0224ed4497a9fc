// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending_test

import (
	"math/big"
	"testing"

	"github.com/luxfi/ids"
	"go.uber.org/mock/gomock"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
)

func liquidate(in, out *big.Int) *lending.Liquidate {
	return &lending.Liquidate{
		Account:   alice,
		InAssets:  []lending.AssetAmount{{Asset: "wnative", Amount: in}},
		OutAssets: []lending.AssetAmount{{Asset: "usdc", Amount: out}},
	}
}

// A native price rise from $10 to $12 puts the position at a 2.5% discount.
// Repaying 4.9 native for 60 USDC reduces the discount without clearing it.
func TestLiquidate(t *testing.T) {
	e := newEnv(t)
	require := e.require

	e.borrowScenario()
	require.NoError(e.deposit(bob, "wnative", tokens(10)))

	pos := e.position(alice, lending.RegularPositionName)
	require.Zero(e.discount(prices(10), pos).Sign())

	before := e.discount(prices(12), pos)
	require.Zero(before.Cmp(big.NewInt(25e15)))

	require.NoError(e.execute(bob, prices(12), liquidate(tenths(49), tokens(60))))

	pos = e.position(alice, lending.RegularPositionName)
	shares := pos.Balances()
	require.Zero(shares.Collateral["usdc"].Cmp(tokens(940)))
	require.Zero(shares.Borrowed["wnative"].Cmp(tenths(451)))

	after := e.discount(prices(12), pos)
	require.Positive(after.Sign())
	require.Negative(after.Cmp(before))

	p := e.principal(bob)
	require.Zero(p.SuppliedShares("usdc").Cmp(tokens(60)))
	require.Zero(p.SuppliedShares("wnative").Cmp(tenths(51)))
	e.assertConservation(alice, bob, carol)
}

func TestLiquidateRejects(t *testing.T) {
	tests := []struct {
		name     string
		caller   ids.ShortID
		price    int64
		action   *lending.Liquidate
		expected error
	}{
		{
			name:     "not at risk",
			caller:   bob,
			price:    10,
			action:   liquidate(tenths(49), tokens(60)),
			expected: lending.ErrNotAtRisk,
		},
		{
			name:     "self",
			caller:   alice,
			price:    12,
			action:   liquidate(tenths(49), tokens(60)),
			expected: lending.ErrSelfLiquidation,
		},
		{
			name:     "too greedy",
			caller:   bob,
			price:    12,
			action:   liquidate(tenths(49), tokens(61)),
			expected: lending.ErrLiquidationTooGreedy,
		},
		{
			name:     "too far",
			caller:   bob,
			price:    12,
			action:   liquidate(tokens(20), tokens(240)),
			expected: lending.ErrLiquidationTooFar,
		},
		{
			name:   "min token amounts on plain collateral",
			caller: bob,
			price:  12,
			action: &lending.Liquidate{
				Account:         alice,
				InAssets:        []lending.AssetAmount{{Asset: "wnative", Amount: tenths(49)}},
				OutAssets:       []lending.AssetAmount{{Asset: "usdc", Amount: tokens(60)}},
				MinTokenAmounts: []lending.TokenAmount{{Asset: "usdc", Amount: tokens(1)}},
			},
			expected: lending.ErrMinTokenAmounts,
		},
		{
			name:   "duplicate repayment asset",
			caller: bob,
			price:  12,
			action: &lending.Liquidate{
				Account: alice,
				InAssets: []lending.AssetAmount{
					{Asset: "wnative", Amount: tenths(20)},
					{Asset: "wnative", Amount: tenths(29)},
				},
				OutAssets: []lending.AssetAmount{{Asset: "usdc", Amount: tokens(60)}},
			},
			expected: lending.ErrDuplicateAsset,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newEnv(t)
			e.borrowScenario()
			e.require.NoError(e.deposit(bob, "wnative", tokens(30)))

			err := e.execute(test.caller, prices(test.price), test.action)
			e.require.ErrorIs(err, test.expected)
		})
	}
}

// With both volatility ratios at 100% the position at $25 owes $1250
// against $1000 for a 10% discount. Seizing 27 USDC for 1 native repaid
// is within the discount but leaves the position worse off.
func TestLiquidateMustReduceDiscount(t *testing.T) {
	e := newEnv(t)
	require := e.require

	require.NoError(e.engine.UpdateAssetConfig(e.store, call(owner), "usdc", assetConfig(10_000)))
	require.NoError(e.engine.UpdateAssetConfig(e.store, call(owner), "wnative", assetConfig(10_000)))
	e.borrowScenario()
	require.NoError(e.deposit(bob, "wnative", tokens(10)))
	e.commit()

	before := e.discount(prices(25), e.position(alice, lending.RegularPositionName))
	require.Zero(before.Cmp(big.NewInt(1e17)))

	err := e.execute(bob, prices(25), liquidate(tokens(1), tokens(27)))
	require.ErrorIs(err, lending.ErrLiquidationIneffective)
	e.rollback()

	shares := e.position(alice, lending.RegularPositionName).Balances()
	require.Zero(shares.Collateral["usdc"].Cmp(tokens(1_000)))
	require.Zero(shares.Borrowed["wnative"].Cmp(tokens(50)))
	p := e.principal(bob)
	require.Zero(p.SuppliedShares("wnative").Cmp(tokens(10)))
	require.Zero(p.SuppliedShares("usdc").Sign())
	require.Zero(e.asset("wnative").Borrowed.Balance.Cmp(tokens(50)))
	e.assertConservation(alice, bob, carol)

	// Seizing less at the same price does improve it.
	require.NoError(e.execute(bob, prices(25), liquidate(tokens(1), tokens(19))))
	after := e.discount(prices(25), e.position(alice, lending.RegularPositionName))
	require.Negative(after.Cmp(before))
}

// At $25 the debt exceeds the collateral outright. Force-closing moves the
// collateral into the USDC reserve and pays the debt out of the native
// reserve.
func TestForceClose(t *testing.T) {
	e := newEnv(t)
	require := e.require

	e.borrowScenario()
	require.NoError(e.engine.DepositToReserve(e.store, call(carol), "wnative", tokens(100)))

	err := e.execute(carol, prices(12), &lending.ForceClose{Account: alice})
	require.ErrorIs(err, lending.ErrNotBadDebt)

	require.NoError(e.execute(carol, prices(25), &lending.ForceClose{Account: alice}))

	_, ok := e.principal(alice).Position(lending.RegularPositionName)
	require.False(ok)

	usdc := e.asset("usdc")
	require.Zero(usdc.Reserved.Cmp(tokens(1_000)))
	require.Zero(usdc.Supplied.Balance.Sign())

	wnative := e.asset("wnative")
	require.Zero(wnative.Reserved.Cmp(tokens(50)))
	require.Zero(wnative.Borrowed.Balance.Sign())
	require.Zero(wnative.ProtocolDebt.Sign())
	e.assertConservation(alice, carol)
}

func TestForceCloseRecordsProtocolDebt(t *testing.T) {
	e := newEnv(t)
	require := e.require

	e.borrowScenario()
	require.NoError(e.engine.DepositToReserve(e.store, call(carol), "wnative", tokens(20)))
	require.NoError(e.execute(carol, prices(25), &lending.ForceClose{Account: alice}))

	wnative := e.asset("wnative")
	require.Zero(wnative.Reserved.Sign())
	require.Zero(wnative.ProtocolDebt.Cmp(tokens(30)))

	// Reserve deposits repay protocol debt first.
	require.NoError(e.engine.DepositToReserve(e.store, call(carol), "wnative", tokens(40)))
	require.Zero(wnative.ProtocolDebt.Sign())
	require.Zero(wnative.Reserved.Cmp(tokens(10)))
}

// lpEnv has alice borrowing 500 reserved USDC against 100 liquidity tokens
// held in their own isolated position.
func lpEnv(t *testing.T) *env {
	e := newEnv(t)
	lp := assetConfig(6000)
	lp.UnderlyingTokens = []ledger.AssetID{"usdc", "wnative"}
	e.addAsset("lp", lp)

	e.require.NoError(e.engine.DepositToReserve(e.store, call(carol), "usdc", tokens(500)))
	e.require.NoError(e.deposit(alice, "lp", tokens(100),
		&lending.IncreaseCollateral{AssetAmount: lending.AssetAmount{Asset: "lp"}, Position: "lp"},
	))
	e.require.NoError(e.execute(alice, lpPrices(10),
		&lending.Borrow{AssetAmount: lending.AssetAmount{Asset: "usdc", Amount: tokens(500)}, Position: "lp"},
	))
	e.require.NoError(e.deposit(bob, "usdc", tokens(100)))
	return e
}

func lpPrices(lpUSD int64) *oracle.PriceSnapshot {
	return prices(10, map[ledger.AssetID]*oracle.Price{"lp": usd(lpUSD)})
}

func lpLiquidation() *lending.Liquidate {
	return &lending.Liquidate{
		Account:   alice,
		Position:  "lp",
		InAssets:  []lending.AssetAmount{{Asset: "usdc", Amount: tokens(50)}},
		OutAssets: []lending.AssetAmount{{Asset: "lp", Amount: tokens(6)}},
		MinTokenAmounts: []lending.TokenAmount{
			{Asset: "usdc", Amount: tokens(10)},
			{Asset: "wnative", Amount: tokens(1)},
		},
	}
}

func (e *env) expectUnwind(amount *big.Int) *ids.ID {
	var intentID ids.ID
	e.unwinder.EXPECT().Unwind(gomock.Any(), ledger.AssetID("lp"), gomock.Any(), gomock.Any()).DoAndReturn(
		func(id ids.ID, _ ledger.AssetID, got *big.Int, mins []lending.TokenAmount) error {
			intentID = id
			e.require.Zero(amount.Cmp(got))
			e.require.Len(mins, 2)
			return nil
		},
	)
	return &intentID
}

func TestIsolatedPositionRules(t *testing.T) {
	e := lpEnv(t)
	require := e.require

	err := e.deposit(carol, "lp", tokens(1), collateral("lp"))
	require.ErrorIs(err, lending.ErrLiquidityTokenRegular)

	err = e.deposit(alice, "usdc", tokens(1),
		&lending.IncreaseCollateral{AssetAmount: lending.AssetAmount{Asset: "usdc"}, Position: "lp"},
	)
	require.ErrorIs(err, lending.ErrIsolatedMismatch)

	// The isolated position's debt never touches the regular position.
	_, ok := e.principal(alice).Position(lending.RegularPositionName)
	require.False(ok)
	require.Zero(e.discount(lpPrices(10), e.position(alice, "lp")).Sign())
	require.Positive(e.discount(lpPrices(8), e.position(alice, "lp")).Sign())
}

func TestLiquidateLiquidityTokenUnwinds(t *testing.T) {
	e := lpEnv(t)
	require := e.require

	intentID := e.expectUnwind(tokens(6))
	require.NoError(e.execute(bob, lpPrices(8), lpLiquidation()))

	require.True(e.principal(alice).IsLocked)
	require.True(e.principal(bob).IsLocked)
	require.Zero(e.asset("lp").Supplied.Balance.Cmp(tokens(94)))

	require.ErrorIs(e.deposit(bob, "usdc", tokens(1)), lending.ErrPrincipalLocked)
	require.ErrorIs(e.execute(alice, lpPrices(8)), lending.ErrPrincipalLocked)
	err := e.execute(carol, lpPrices(8), &lending.ForceClose{Account: alice, Position: "lp"})
	require.ErrorIs(err, lending.ErrPrincipalLocked)
	require.Equal(lending.ConcurrencyError, lending.KindOf(err))

	short := []lending.TokenAmount{
		{Asset: "usdc", Amount: tokens(5)},
		{Asset: "wnative", Amount: tokens(2)},
	}
	err = e.engine.OnUnwindResolved(e.store, now, *intentID, true, short)
	require.ErrorIs(err, lending.ErrUnwindShortfall)

	received := []lending.TokenAmount{
		{Asset: "usdc", Amount: tokens(30)},
		{Asset: "wnative", Amount: tokens(2)},
	}
	require.NoError(e.engine.OnUnwindResolved(e.store, now, *intentID, true, received))

	p := e.principal(bob)
	require.False(p.IsLocked)
	require.False(e.principal(alice).IsLocked)
	require.Zero(p.SuppliedShares("usdc").Cmp(tokens(80)))
	require.Zero(p.SuppliedShares("wnative").Cmp(tokens(2)))
	require.Zero(p.SuppliedShares("lp").Sign())
	e.assertConservation(alice, bob)

	err = e.engine.OnUnwindResolved(e.store, now, *intentID, true, received)
	require.ErrorIs(err, lending.ErrIntentNotFound)
}

func TestFailedUnwindCreditsLiquidityTokens(t *testing.T) {
	e := lpEnv(t)
	require := e.require

	intentID := e.expectUnwind(tokens(6))
	require.NoError(e.execute(bob, lpPrices(8), lpLiquidation()))
	require.NoError(e.engine.OnUnwindResolved(e.store, now, *intentID, false, nil))

	p := e.principal(bob)
	require.False(p.IsLocked)
	require.Zero(p.SuppliedShares("lp").Cmp(tokens(6)))
	require.Zero(e.asset("lp").Supplied.Balance.Cmp(tokens(100)))
	e.assertConservation(alice, bob)
}

func TestLiquidityTokenLiquidationNeedsMinimums(t *testing.T) {
	e := lpEnv(t)

	action := lpLiquidation()
	action.MinTokenAmounts = action.MinTokenAmounts[:1]
	err := e.execute(bob, lpPrices(8), action)
	e.require.ErrorIs(err, lending.ErrMinTokenAmounts)
}
