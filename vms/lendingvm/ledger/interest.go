// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"math/big"

	"github.com/shopspring/decimal"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

const (
	NanosPerSecond = uint64(1_000_000_000)
	SecondsPerYear = uint64(365 * 24 * 60 * 60)
)

var bigMaxBps = big.NewInt(MaxBps)

// RatePow raises a 1e27-scaled per-second rate to the n-th power.
func RatePow(rate *big.Int, n uint64) *big.Int {
	result := new(big.Int).Set(UnitRate)
	base := new(big.Int).Set(rate)
	for n > 0 {
		if n&1 == 1 {
			result.Mul(result, base)
			result.Quo(result, UnitRate)
		}
		n >>= 1
		if n > 0 {
			base.Mul(base, base)
			base.Quo(base, UnitRate)
		}
	}
	return result
}

// Utilization returns borrowed over supplied, scaled by 1e27 and capped at one.
func (a *Asset) Utilization() *big.Int {
	if a.Supplied.Balance.Sign() == 0 {
		return new(big.Int)
	}
	u := safemath.MulDiv(a.Borrowed.Balance, UnitRate, a.Supplied.Balance, false)
	if u.Cmp(UnitRate) > 0 {
		u.Set(UnitRate)
	}
	return u
}

// BorrowRate interpolates the per-second rate for the current utilization.
// The curve is linear from one at zero utilization to the target rate at
// the target, then linear to the max rate at full utilization.
func (a *Asset) BorrowRate() *big.Int {
	cfg := &a.Config
	u := a.Utilization()
	target := safemath.MulDiv(UnitRate, big.NewInt(int64(cfg.TargetUtilizationBps)), bigMaxBps, false)

	if u.Cmp(target) <= 0 {
		slope := new(big.Int).Sub(cfg.TargetUtilizationRate, UnitRate)
		rate := safemath.MulDiv(slope, u, target, false)
		return rate.Add(rate, UnitRate)
	}

	slope := new(big.Int).Sub(cfg.MaxUtilizationRate, cfg.TargetUtilizationRate)
	over := new(big.Int).Sub(u, target)
	rest := new(big.Int).Sub(UnitRate, target)
	rate := safemath.MulDiv(slope, over, rest, false)
	return rate.Add(rate, cfg.TargetUtilizationRate)
}

// MarginDebtRate charges margin debt a configured share of the borrow rate.
func (a *Asset) MarginDebtRate() *big.Int {
	excess := new(big.Int).Sub(a.BorrowRate(), UnitRate)
	rate := safemath.MulDiv(excess, big.NewInt(int64(a.Config.MarginDebtDiscountRateBps)), bigMaxBps, false)
	return rate.Add(rate, UnitRate)
}

// Touch accrues interest up to now. Only whole seconds are consumed so the
// remainder carries into the next touch.
func (a *Asset) Touch(now uint64) {
	if now <= a.LastUpdateTimestamp {
		return
	}
	secs := (now - a.LastUpdateTimestamp) / NanosPerSecond
	if secs == 0 {
		return
	}

	borrowInterest := compound(a.Borrowed.Balance, a.BorrowRate(), secs)
	marginInterest := compound(a.MarginDebt.Balance, a.MarginDebtRate(), secs)
	a.Borrowed.Balance.Add(a.Borrowed.Balance, borrowInterest)
	a.MarginDebt.Balance.Add(a.MarginDebt.Balance, marginInterest)

	total := new(big.Int).Add(borrowInterest, marginInterest)
	if total.Sign() > 0 {
		a.distribute(total)
	}

	index := RatePow(a.Config.holdingFeeRate(), secs)
	a.HoldingFeeIndex = safemath.MulDiv(a.HoldingFeeIndex, index, UnitRate, false)
	a.LastUpdateTimestamp += secs * NanosPerSecond
}

func compound(balance, rate *big.Int, secs uint64) *big.Int {
	if balance.Sign() == 0 {
		return new(big.Int)
	}
	grown := safemath.MulDiv(balance, RatePow(rate, secs), UnitRate, false)
	return grown.Sub(grown, balance)
}

// distribute splits accrued interest between the reserve, the protocol fee
// and suppliers.
func (a *Asset) distribute(total *big.Int) {
	reservePart := safemath.MulDiv(total, big.NewInt(int64(a.Config.ReserveRatioBps)), bigMaxBps, false)
	if a.Supplied.Shares.Sign() == 0 {
		reservePart.Set(total)
	}
	feePart := safemath.MulDiv(reservePart, big.NewInt(int64(a.Config.ProtocolFeeRatioBps)), bigMaxBps, false)

	supplierPart := new(big.Int).Sub(total, reservePart)

	a.ProtocolFee.Add(a.ProtocolFee, feePart)
	a.Reserved.Add(a.Reserved, reservePart.Sub(reservePart, feePart))
	a.Supplied.Balance.Add(a.Supplied.Balance, supplierPart)
}

// BorrowAPR is the annualized borrow rate at the current utilization.
func (a *Asset) BorrowAPR() decimal.Decimal {
	return annualize(a.BorrowRate())
}

// SupplyAPR is the annualized rate earned by suppliers after the reserve cut.
func (a *Asset) SupplyAPR() decimal.Decimal {
	if a.Supplied.Balance.Sign() == 0 {
		return decimal.Zero
	}
	borrowed := decimal.NewFromBigInt(a.Borrowed.Balance, 0)
	supplied := decimal.NewFromBigInt(a.Supplied.Balance, 0)
	keep := decimal.New(int64(MaxBps-a.Config.ReserveRatioBps), -4)
	return a.BorrowAPR().Mul(borrowed).Div(supplied).Mul(keep)
}

func annualize(rate *big.Int) decimal.Decimal {
	yearly := RatePow(rate, SecondsPerYear)
	return decimal.NewFromBigInt(yearly.Sub(yearly, UnitRate), -27)
}
