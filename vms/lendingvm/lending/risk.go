// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"math/big"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

var (
	bigMaxBps = big.NewInt(ledger.MaxBps)
	bigTwo    = big.NewInt(2)
)

// AssetLoader returns an asset accrued up to the current call.
type AssetLoader func(id ledger.AssetID) (*ledger.Asset, error)

// Sums holds the USD values of a position scaled by 1e18.
type Sums struct {
	Collateral *big.Int
	Borrowed   *big.Int
}

// PositionSums values a position. Weighted sums scale collateral down and
// debt up by each asset's volatility ratio; raw sums do not. Collateral
// rounds down and debt rounds up either way.
func PositionSums(load AssetLoader, book *oracle.Book, pos Position, weighted bool) (Sums, error) {
	sums := Sums{
		Collateral: new(big.Int),
		Borrowed:   new(big.Int),
	}
	shares := pos.Balances()
	for _, id := range sortedAssets(shares.Collateral) {
		asset, err := load(id)
		if err != nil {
			return Sums{}, err
		}
		amount := asset.Supplied.SharesToAmount(shares.Collateral[id], false)
		value, err := book.Value(asset, amount, false)
		if err != nil {
			return Sums{}, err
		}
		if weighted {
			value.Mul(value, big.NewInt(int64(asset.Config.VolatilityRatioBps)))
			value.Quo(value, bigMaxBps)
		}
		sums.Collateral.Add(sums.Collateral, value)
	}
	for _, id := range sortedAssets(shares.Borrowed) {
		asset, err := load(id)
		if err != nil {
			return Sums{}, err
		}
		amount := asset.Borrowed.SharesToAmount(shares.Borrowed[id], true)
		value, err := book.Value(asset, amount, true)
		if err != nil {
			return Sums{}, err
		}
		if weighted {
			value = safemath.Div(new(big.Int).Mul(value, bigMaxBps), big.NewInt(int64(asset.Config.VolatilityRatioBps)), true)
		}
		sums.Borrowed.Add(sums.Borrowed, value)
	}
	return sums, nil
}

// Discount is (borrowed - collateral) / (2 * borrowed) scaled by 1e18, or
// zero while collateral covers the debt.
func (s Sums) Discount() *big.Int {
	if s.Borrowed.Cmp(s.Collateral) <= 0 {
		return new(big.Int)
	}
	d := new(big.Int).Sub(s.Borrowed, s.Collateral)
	d.Mul(d, oracle.ValueScale)
	return d.Quo(d, new(big.Int).Mul(s.Borrowed, bigTwo))
}

// HealthFactor is collateral / borrowed scaled by 1e18. A position without
// debt reports nil.
func (s Sums) HealthFactor() *big.Int {
	if s.Borrowed.Sign() == 0 {
		return nil
	}
	h := new(big.Int).Mul(s.Collateral, oracle.ValueScale)
	return h.Quo(h, s.Borrowed)
}

// RiskDiscount returns the weighted discount of pos.
func RiskDiscount(load AssetLoader, book *oracle.Book, pos Position) (*big.Int, error) {
	if !pos.Balances().HasBorrowed() {
		return new(big.Int), nil
	}
	sums, err := PositionSums(load, book, pos, true)
	if err != nil {
		return nil, err
	}
	return sums.Discount(), nil
}
