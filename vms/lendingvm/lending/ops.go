// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"fmt"
	"math/big"

	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

var _ Visitor = (*batch)(nil)

func (b *batch) Withdraw(a *Withdraw) error {
	asset, err := b.asset(a.Asset)
	if err != nil {
		return err
	}
	if !asset.Config.CanWithdraw {
		return fmt.Errorf("%w: %s", ledger.ErrWithdrawDisabled, a.Asset)
	}
	_, amount, err := a.resolve(&asset.Supplied, b.principal.SuppliedShares(a.Asset))
	if err != nil {
		return err
	}
	amount = asset.FloorToToken(amount)
	if amount.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}
	shares := asset.Supplied.AmountToShares(amount, true)
	if err := asset.AssertAvailable(amount); err != nil {
		return err
	}
	if err := b.principal.SubSupplied(a.Asset, shares); err != nil {
		return err
	}
	if err := asset.Supplied.Withdraw(shares, amount); err != nil {
		return err
	}
	return b.SendTransfer(b.store, SourceSupply, b.principal.ID, asset, amount, b.call.Now)
}

func (b *batch) IncreaseCollateral(a *IncreaseCollateral) error {
	asset, err := b.asset(a.Asset)
	if err != nil {
		return err
	}
	if !asset.Config.CanUseAsCollateral {
		return fmt.Errorf("%w: %s", ledger.ErrCollateralDisabled, a.Asset)
	}
	name := positionName(a.Position)
	if name == RegularPositionName && asset.Config.IsLiquidityToken() {
		return fmt.Errorf("%w: %s", ErrLiquidityTokenRegular, a.Asset)
	}
	if name != RegularPositionName {
		if _, err := b.asset(ledger.AssetID(name)); err != nil {
			return err
		}
	}
	pos := b.principal.GetOrCreatePosition(name)
	if err := pos.acceptsCollateral(a.Asset); err != nil {
		return err
	}
	shares, _, err := a.resolve(&asset.Supplied, b.principal.SuppliedShares(a.Asset))
	if err != nil {
		return err
	}
	if err := b.principal.SubSupplied(a.Asset, shares); err != nil {
		return err
	}
	add(pos.Balances().Collateral, a.Asset, shares)
	return nil
}

func (b *batch) DecreaseCollateral(a *DecreaseCollateral) error {
	asset, err := b.asset(a.Asset)
	if err != nil {
		return err
	}
	name := positionName(a.Position)
	pos, ok := b.principal.Position(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, name)
	}
	collateral := pos.Balances().Collateral
	shares, _, err := a.resolve(&asset.Supplied, get(collateral, a.Asset))
	if err != nil {
		return err
	}
	if err := sub(collateral, a.Asset, shares); err != nil {
		return err
	}
	b.principal.AddSupplied(a.Asset, shares)
	b.principal.PrunePosition(name)
	b.checks.Add(name)
	return nil
}

func (b *batch) Borrow(a *Borrow) error {
	asset, err := b.asset(a.Asset)
	if err != nil {
		return err
	}
	if !asset.Config.CanBorrow {
		return fmt.Errorf("%w: %s", ledger.ErrBorrowDisabled, a.Asset)
	}
	amount := a.Amount
	if amount == nil {
		amount = a.MaxAmount
	}
	if amount == nil {
		return ErrAmountRequired
	}
	if amount.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}
	if err := asset.AssertMinBorrow(amount); err != nil {
		return err
	}
	if err := asset.AssertAvailable(amount); err != nil {
		return err
	}

	borrowedShares := asset.Borrowed.AmountToShares(amount, true)
	if err := asset.Borrowed.Deposit(borrowedShares, amount); err != nil {
		return err
	}
	if err := b.supply(b.principal, asset, amount); err != nil {
		return err
	}
	if err := asset.AssertBorrowCap(b.bypass); err != nil {
		return err
	}

	name := positionName(a.Position)
	if name != RegularPositionName {
		if _, err := b.asset(ledger.AssetID(name)); err != nil {
			return err
		}
	}
	pos := b.principal.GetOrCreatePosition(name)
	add(pos.Balances().Borrowed, a.Asset, borrowedShares)
	b.checks.Add(name)
	return nil
}

func (b *batch) Repay(a *Repay) error {
	asset, err := b.asset(a.Asset)
	if err != nil {
		return err
	}
	name := positionName(a.Position)
	pos, ok := b.principal.Position(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, name)
	}
	borrowed := pos.Balances().Borrowed
	debtShares := get(borrowed, a.Asset)
	if debtShares.Sign() == 0 {
		return fmt.Errorf("%w: %s in %s", ErrNoDebt, a.Asset, name)
	}
	debt := asset.Borrowed.SharesToAmount(debtShares, true)

	// Debt in a legacy token is repaid with its successor.
	funding := asset
	if successor, ok := b.config.Successor(a.Asset); ok {
		if funding, err = b.asset(successor); err != nil {
			return err
		}
	}
	fundingAvailable := funding.Supplied.SharesToAmount(b.principal.SuppliedShares(funding.ID), false)
	fundingAvailable = convert(fundingAvailable, funding, asset, false)

	amount := a.requested(safemath.Min(debt, fundingAvailable))
	if a.Amount != nil && a.Amount.Cmp(debt) < 0 && a.Amount.Cmp(fundingAvailable) > 0 {
		return fmt.Errorf("%w: %s supplied, %s requested", ledger.ErrInsufficientShares, fundingAvailable, a.Amount)
	}
	if amount.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}

	repaidShares := debtShares
	if amount.Cmp(debt) < 0 {
		repaidShares = asset.Borrowed.AmountToShares(amount, false)
	}
	if repaidShares.Sign() == 0 {
		return ledger.ErrZeroShares
	}
	// A full repayment clears the shares even when the position's debt
	// rounded up past the pool balance.
	if err := asset.Borrowed.Remove(repaidShares, safemath.Min(amount, asset.Borrowed.Balance)); err != nil {
		return err
	}
	if err := sub(borrowed, a.Asset, repaidShares); err != nil {
		return err
	}

	fundingAmount := convert(amount, asset, funding, true)
	fundingShares := funding.Supplied.AmountToShares(fundingAmount, true)
	if err := b.principal.SubSupplied(funding.ID, fundingShares); err != nil {
		return err
	}
	if err := funding.Supplied.Withdraw(fundingShares, fundingAmount); err != nil {
		return err
	}
	if funding != asset {
		funding.Reserved.Add(funding.Reserved, fundingAmount)
		if err := asset.WithdrawFromReserve(amount); err != nil {
			return err
		}
		b.log.Debug("repaid legacy debt",
			log.Stringer("asset", asset.ID),
			log.Stringer("successor", funding.ID),
			log.Stringer("amount", amount),
		)
	}
	b.principal.PrunePosition(name)
	return nil
}

func (b *batch) MarginDirectLiquidate(a *MarginDirectLiquidate) error {
	if b.margin == nil {
		return ErrNoMarginEngine
	}
	if err := b.margin.DirectLiquidate(b.store, b.call.Now, b.book, b.principal.ID, a.Owner, a.PositionID); err != nil {
		return err
	}
	// The margin debt lands in the caller's regular position.
	b.checks.Add(RegularPositionName)
	return nil
}

// convert rescales an inner amount of from into the inner precision of to.
// Both tokens are assumed to share a price, as a legacy token and its
// successor do.
func convert(amount *big.Int, from, to *ledger.Asset, roundUp bool) *big.Int {
	if from.Config.ExtraDecimals == to.Config.ExtraDecimals {
		return new(big.Int).Set(amount)
	}
	return safemath.MulDiv(amount, safemath.Pow10(to.Config.ExtraDecimals), safemath.Pow10(from.Config.ExtraDecimals), roundUp)
}
