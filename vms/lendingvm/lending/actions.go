// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

var (
	_ Action = (*Withdraw)(nil)
	_ Action = (*IncreaseCollateral)(nil)
	_ Action = (*DecreaseCollateral)(nil)
	_ Action = (*Borrow)(nil)
	_ Action = (*Repay)(nil)
	_ Action = (*Liquidate)(nil)
	_ Action = (*ForceClose)(nil)
	_ Action = (*MarginDirectLiquidate)(nil)
)

// Visitor handles every action kind. Adding an action means adding a method
// here, which every visitor must then implement.
type Visitor interface {
	Withdraw(*Withdraw) error
	IncreaseCollateral(*IncreaseCollateral) error
	DecreaseCollateral(*DecreaseCollateral) error
	Borrow(*Borrow) error
	Repay(*Repay) error
	Liquidate(*Liquidate) error
	ForceClose(*ForceClose) error
	MarginDirectLiquidate(*MarginDirectLiquidate) error
}

// Action is one step of a batch.
type Action interface {
	Visit(Visitor) error
}

// AssetAmount requests an amount of an asset. With Amount set the request is
// exact; with MaxAmount set it takes up to that much; with neither it takes
// everything available.
type AssetAmount struct {
	Asset     ledger.AssetID `json:"asset"`
	Amount    *big.Int       `json:"amount,omitempty"`
	MaxAmount *big.Int       `json:"maxAmount,omitempty"`
}

// resolve converts the request into shares and amount of pool, bounded by
// the available shares. Shares taken for an exact amount round up; the
// amount released for a share count rounds down.
func (r *AssetAmount) resolve(pool *ledger.Pool, available *big.Int) (*big.Int, *big.Int, error) {
	var shares, amount *big.Int
	switch {
	case r.Amount != nil:
		amount = new(big.Int).Set(r.Amount)
		shares = pool.AmountToShares(amount, true)
	case r.MaxAmount != nil:
		shares = safemath.Min(available, pool.AmountToShares(r.MaxAmount, false))
		amount = pool.SharesToAmount(shares, false)
	default:
		shares = new(big.Int).Set(available)
		amount = pool.SharesToAmount(shares, false)
	}
	if shares.Sign() <= 0 {
		return nil, nil, ledger.ErrZeroShares
	}
	if amount.Sign() <= 0 {
		return nil, nil, ledger.ErrZeroAmount
	}
	if shares.Cmp(available) > 0 {
		return nil, nil, ledger.ErrInsufficientShares
	}
	return shares, amount, nil
}

// requested returns the amount asked for, capped by limit.
func (r *AssetAmount) requested(limit *big.Int) *big.Int {
	switch {
	case r.Amount != nil:
		return safemath.Min(r.Amount, limit)
	case r.MaxAmount != nil:
		return safemath.Min(r.MaxAmount, limit)
	default:
		return new(big.Int).Set(limit)
	}
}

func positionName(name string) string {
	if name == "" {
		return RegularPositionName
	}
	return name
}

// Withdraw sends supplied tokens back to the principal.
type Withdraw struct {
	AssetAmount
}

func (a *Withdraw) Visit(v Visitor) error {
	return v.Withdraw(a)
}

// IncreaseCollateral moves supplied shares into a position.
type IncreaseCollateral struct {
	AssetAmount
	// Empty means the regular position.
	Position string `json:"position,omitempty"`
}

func (a *IncreaseCollateral) Visit(v Visitor) error {
	return v.IncreaseCollateral(a)
}

// DecreaseCollateral moves collateral shares back to supply.
type DecreaseCollateral struct {
	AssetAmount
	Position string `json:"position,omitempty"`
}

func (a *DecreaseCollateral) Visit(v Visitor) error {
	return v.DecreaseCollateral(a)
}

// Borrow takes debt in a position and credits the tokens to supply.
type Borrow struct {
	AssetAmount
	Position string `json:"position,omitempty"`
}

func (a *Borrow) Visit(v Visitor) error {
	return v.Borrow(a)
}

// Repay pays position debt out of supply.
type Repay struct {
	AssetAmount
	Position string `json:"position,omitempty"`
}

func (a *Repay) Visit(v Visitor) error {
	return v.Repay(a)
}

// Liquidate repays part of another principal's at-risk position in exchange
// for a discounted share of its collateral.
type Liquidate struct {
	Account   ids.ShortID   `json:"account"`
	Position  string        `json:"position,omitempty"`
	InAssets  []AssetAmount `json:"inAssets"`
	OutAssets []AssetAmount `json:"outAssets"`
	// Required when seizing liquidity-token collateral, one per underlying
	// token.
	MinTokenAmounts []TokenAmount `json:"minTokenAmounts,omitempty"`
}

func (a *Liquidate) Visit(v Visitor) error {
	return v.Liquidate(a)
}

// ForceClose settles a bad-debt position against protocol reserves.
type ForceClose struct {
	Account  ids.ShortID `json:"account"`
	Position string      `json:"position,omitempty"`
}

func (a *ForceClose) Visit(v Visitor) error {
	return v.ForceClose(a)
}

// MarginDirectLiquidate takes over an unhealthy margin position without a
// swap: its tokens go to the caller's supply and its debt to the caller's
// regular position.
type MarginDirectLiquidate struct {
	Owner      ids.ShortID `json:"owner"`
	PositionID ids.ID      `json:"positionId"`
}

func (a *MarginDirectLiquidate) Visit(v Visitor) error {
	return v.MarginDirectLiquidate(a)
}

// kindNamer names actions for metrics and logs.
type kindNamer struct {
	kind string
}

func (k *kindNamer) Withdraw(*Withdraw) error {
	k.kind = "withdraw"
	return nil
}

func (k *kindNamer) IncreaseCollateral(*IncreaseCollateral) error {
	k.kind = "increase_collateral"
	return nil
}

func (k *kindNamer) DecreaseCollateral(*DecreaseCollateral) error {
	k.kind = "decrease_collateral"
	return nil
}

func (k *kindNamer) Borrow(*Borrow) error {
	k.kind = "borrow"
	return nil
}

func (k *kindNamer) Repay(*Repay) error {
	k.kind = "repay"
	return nil
}

func (k *kindNamer) Liquidate(*Liquidate) error {
	k.kind = "liquidate"
	return nil
}

func (k *kindNamer) ForceClose(*ForceClose) error {
	k.kind = "force_close"
	return nil
}

func (k *kindNamer) MarginDirectLiquidate(*MarginDirectLiquidate) error {
	k.kind = "margin_direct_liquidate"
	return nil
}

// KindOfAction returns the metrics label of an action.
func KindOfAction(a Action) string {
	k := &kindNamer{}
	_ = a.Visit(k)
	return k.kind
}
