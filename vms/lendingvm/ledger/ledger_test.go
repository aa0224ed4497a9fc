// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

const year = SecondsPerYear * NanosPerSecond

var (
	// 8% APR compounded per second.
	rateAPR8 = mustBig("1000000002440418608258400030")
	// 250% APR compounded per second.
	rateAPR250 = mustBig("1000000039724853136740579970")
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func testConfig() AssetConfig {
	return AssetConfig{
		ReserveRatioBps:           0,
		TargetUtilizationBps:      8000,
		TargetUtilizationRate:     new(big.Int).Set(rateAPR8),
		MaxUtilizationRate:        new(big.Int).Set(rateAPR250),
		VolatilityRatioBps:        9000,
		CanDeposit:                true,
		CanWithdraw:               true,
		CanUseAsCollateral:        true,
		CanBorrow:                 true,
		MarginDebtDiscountRateBps: 5000,
	}
}

func TestPoolEmptyConvertsOneToOne(t *testing.T) {
	require := require.New(t)

	p := NewPool()
	require.Equal(int64(7), p.AmountToShares(big.NewInt(7), false).Int64())
	require.Equal(int64(7), p.SharesToAmount(big.NewInt(7), true).Int64())
}

func TestPoolDepositWithdraw(t *testing.T) {
	require := require.New(t)

	p := NewPool()
	require.NoError(p.Deposit(big.NewInt(100), big.NewInt(100)))
	p.Balance.Add(p.Balance, big.NewInt(50)) // accrued interest

	require.Equal(int64(66), p.AmountToShares(big.NewInt(100), false).Int64())
	require.Equal(int64(67), p.AmountToShares(big.NewInt(100), true).Int64())

	require.ErrorIs(p.Deposit(big.NewInt(0), big.NewInt(1)), ErrZeroShares)
	require.ErrorIs(p.Deposit(big.NewInt(1), big.NewInt(0)), ErrZeroAmount)
	require.ErrorIs(p.Withdraw(big.NewInt(101), big.NewInt(1)), ErrInsufficientShares)
	require.ErrorIs(p.Withdraw(big.NewInt(1), big.NewInt(151)), ErrInsufficientBalance)
	require.ErrorIs(p.Withdraw(big.NewInt(1), big.NewInt(150)), ErrPoolInconsistent)

	require.NoError(p.Withdraw(big.NewInt(100), big.NewInt(150)))
	require.True(p.IsEmpty())
	require.Zero(p.Balance.Sign())
}

// Round trips never let a depositor recover more, nor a borrower owe less.
func TestPoolRoundingMonotonicity(t *testing.T) {
	require := require.New(t)

	p := Pool{Shares: big.NewInt(999_983), Balance: big.NewInt(1_234_577)}
	for amount := int64(1); amount < 5_000; amount += 37 {
		a := big.NewInt(amount)

		credited := p.SharesToAmount(p.AmountToShares(a, false), false)
		require.LessOrEqual(credited.Cmp(a), 0, "depositor gained on %d", amount)

		owed := p.SharesToAmount(p.AmountToShares(a, true), true)
		require.GreaterOrEqual(owed.Cmp(a), 0, "borrower gained on %d", amount)
	}
}

func TestRatePow(t *testing.T) {
	require := require.New(t)

	require.Zero(RatePow(rateAPR8, 0).Cmp(UnitRate))
	require.Zero(RatePow(rateAPR8, 1).Cmp(rateAPR8))

	yearly := RatePow(rateAPR8, SecondsPerYear)
	want := mustBig("1080000000000000000000000000")
	diff := new(big.Int).Sub(want, yearly)
	require.Negative(diff.Cmp(big.NewInt(1e12)))
}

func TestBorrowRateCurve(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	require.Zero(a.BorrowRate().Cmp(UnitRate))

	require.NoError(a.Supplied.Deposit(tokens(10_000), tokens(10_000)))
	require.NoError(a.Borrowed.Deposit(tokens(8_000), tokens(8_000)))
	require.Zero(a.BorrowRate().Cmp(rateAPR8))

	a.Borrowed.Balance.Set(tokens(10_000))
	require.Zero(a.BorrowRate().Cmp(rateAPR250))

	a.Borrowed.Balance.Set(tokens(4_000))
	half := new(big.Int).Sub(rateAPR8, UnitRate)
	half.Quo(half, big.NewInt(2))
	half.Add(half, UnitRate)
	require.Zero(a.BorrowRate().Cmp(half))

	margin := a.MarginDebtRate()
	require.Equal(1, margin.Cmp(UnitRate))
	require.Equal(-1, margin.Cmp(a.BorrowRate()))
}

// Borrowing 8000 at the 8% target rate grows to 8640 after one year.
func TestTouchAccruesOneYear(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	require.NoError(a.Supplied.Deposit(tokens(10_000), tokens(10_000)))
	require.NoError(a.Borrowed.Deposit(tokens(8_000), tokens(8_000)))

	a.Touch(year)

	want := tokens(8_640)
	diff := new(big.Int).Sub(want, a.Borrowed.Balance)
	diff.Abs(diff)
	require.Negative(diff.Cmp(big.NewInt(1e6)))

	interest := new(big.Int).Sub(a.Borrowed.Balance, tokens(8_000))
	require.Zero(new(big.Int).Sub(a.Supplied.Balance, tokens(10_000)).Cmp(interest))
	require.Equal(year, a.LastUpdateTimestamp)
}

func TestTouchSplitsInterest(t *testing.T) {
	require := require.New(t)

	cfg := testConfig()
	cfg.ReserveRatioBps = 2000
	cfg.ProtocolFeeRatioBps = 5000
	a := NewAsset("usdc", cfg, 0)
	require.NoError(a.Supplied.Deposit(tokens(10_000), tokens(10_000)))
	require.NoError(a.Borrowed.Deposit(tokens(8_000), tokens(8_000)))

	a.Touch(year)

	interest := new(big.Int).Sub(a.Borrowed.Balance, tokens(8_000))
	toSuppliers := new(big.Int).Sub(a.Supplied.Balance, tokens(10_000))
	sum := new(big.Int).Add(toSuppliers, a.Reserved)
	sum.Add(sum, a.ProtocolFee)
	require.Zero(sum.Cmp(interest))
	require.Positive(a.Reserved.Sign())
	require.Positive(a.ProtocolFee.Sign())
}

func TestTouchIgnoresPartialSeconds(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	a.Touch(NanosPerSecond - 1)
	require.Zero(a.LastUpdateTimestamp)

	a.Touch(3*NanosPerSecond + 5)
	require.Equal(3*NanosPerSecond, a.LastUpdateTimestamp)

	a.Touch(NanosPerSecond)
	require.Equal(3*NanosPerSecond, a.LastUpdateTimestamp)
}

// Reads at the same instant agree no matter how often the record was
// touched in between.
func TestTouchIsPathIndependentAtSameInstant(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	require.NoError(a.Supplied.Deposit(tokens(10_000), tokens(10_000)))
	require.NoError(a.Borrowed.Deposit(tokens(8_000), tokens(8_000)))

	once := a.Clone()
	once.Touch(30 * NanosPerSecond)

	stepped := a.Clone()
	for i := uint64(1); i <= 30; i++ {
		stepped.Touch(i * NanosPerSecond)
	}

	diff := new(big.Int).Sub(once.Borrowed.Balance, stepped.Borrowed.Balance)
	diff.Abs(diff)
	require.Negative(diff.Cmp(tokens(1)))
	require.Equal(once.LastUpdateTimestamp, stepped.LastUpdateTimestamp)

	again := once.Clone()
	again.Touch(30 * NanosPerSecond)
	require.Zero(again.Borrowed.Balance.Cmp(once.Borrowed.Balance))
}

func TestAvailableAmount(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	require.NoError(a.Supplied.Deposit(tokens(100), tokens(100)))
	a.Reserved.Set(tokens(10))
	require.NoError(a.Borrowed.Deposit(tokens(30), tokens(30)))
	a.MarginPendingDebt.Set(tokens(5))
	a.ProtocolDebt.Set(tokens(5))
	require.Zero(a.AvailableAmount().Cmp(tokens(70)))

	require.NoError(a.AssertAvailable(tokens(70)))
	require.ErrorIs(a.AssertAvailable(tokens(71)), ErrInsufficientLiquidity)

	a.ProtocolDebt.Set(tokens(500))
	require.Zero(a.AvailableAmount().Sign())
}

func TestCaps(t *testing.T) {
	require := require.New(t)

	cfg := testConfig()
	cfg.SuppliedLimit = tokens(100)
	cfg.BorrowedLimit = tokens(50)
	cfg.MinBorrowedAmount = tokens(1)
	a := NewAsset("usdc", cfg, 0)

	require.NoError(a.Supplied.Deposit(tokens(101), tokens(101)))
	require.ErrorIs(a.AssertSupplyCap(false), ErrSupplyCapExceeded)
	require.NoError(a.AssertSupplyCap(true))

	require.NoError(a.Borrowed.Deposit(tokens(51), tokens(51)))
	require.ErrorIs(a.AssertBorrowCap(false), ErrBorrowCapExceeded)
	require.NoError(a.AssertBorrowCap(true))

	require.ErrorIs(a.AssertMinBorrow(big.NewInt(1)), ErrBelowMinBorrow)
	require.NoError(a.AssertMinBorrow(tokens(1)))
}

func TestReserveAndProtocolDebt(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	a.DepositToReserve(tokens(10))
	require.Zero(a.Reserved.Cmp(tokens(10)))

	recorded := a.CoverShortfall(tokens(15))
	require.Zero(recorded.Cmp(tokens(5)))
	require.Zero(a.Reserved.Sign())
	require.Zero(a.ProtocolDebt.Cmp(tokens(5)))

	a.DepositToReserve(tokens(7))
	require.Zero(a.ProtocolDebt.Sign())
	require.Zero(a.Reserved.Cmp(tokens(2)))

	require.ErrorIs(a.WithdrawFromReserve(tokens(3)), ErrInsufficientReserve)
	require.NoError(a.WithdrawFromReserve(tokens(2)))
}

func TestSettleDust(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	a.Supplied.Balance.SetInt64(3)
	a.Borrowed.Balance.SetInt64(2)
	a.SettleDust()

	require.Zero(a.Supplied.Balance.Sign())
	require.Zero(a.Borrowed.Balance.Sign())
	require.Equal(int64(1), a.Reserved.Int64())
}

func TestExtraDecimals(t *testing.T) {
	require := require.New(t)

	cfg := testConfig()
	cfg.ExtraDecimals = 12
	a := NewAsset("usdc", cfg, 0)

	inner := a.ToInner(big.NewInt(5))
	require.Equal("5000000000000", inner.String())

	odd := new(big.Int).Add(inner, big.NewInt(999))
	require.Zero(a.FloorToToken(odd).Cmp(inner))
	require.Equal(int64(5), a.ToToken(odd).Int64())
}

func TestMigrate(t *testing.T) {
	require := require.New(t)

	a := &Asset{
		ID:       "usdc",
		Supplied: Pool{Shares: big.NewInt(1), Balance: big.NewInt(1)},
		Borrowed: NewPool(),
		Reserved: new(big.Int),
		Config:   testConfig(),
		Version:  1,
	}
	require.True(a.Migrate())
	require.Equal(CurrentVersion, a.Version)
	require.NotNil(a.MarginDebt.Shares)
	require.NotNil(a.ProtocolDebt)
	require.Zero(a.HoldingFeeIndex.Cmp(UnitRate))
	require.False(a.Migrate())

	a.Touch(10 * NanosPerSecond)
}

func TestAPR(t *testing.T) {
	require := require.New(t)

	a := NewAsset("usdc", testConfig(), 0)
	require.True(a.BorrowAPR().IsZero())
	require.True(a.SupplyAPR().IsZero())

	require.NoError(a.Supplied.Deposit(tokens(10_000), tokens(10_000)))
	require.NoError(a.Borrowed.Deposit(tokens(8_000), tokens(8_000)))
	require.Equal("0.08", a.BorrowAPR().Round(4).String())
	require.Equal("0.064", a.SupplyAPR().Round(4).String())
}

func TestConfigVerify(t *testing.T) {
	require := require.New(t)

	cfg := testConfig()
	require.NoError(cfg.Verify())

	bad := cfg
	bad.VolatilityRatioBps = 0
	require.ErrorIs(bad.Verify(), ErrInvalidConfig)

	bad = cfg
	bad.MaxUtilizationRate = UnitRate
	require.ErrorIs(bad.Verify(), ErrInvalidConfig)

	bad = cfg
	bad.UnderlyingTokens = []AssetID{"a", "a"}
	require.ErrorIs(bad.Verify(), ErrInvalidConfig)
}
