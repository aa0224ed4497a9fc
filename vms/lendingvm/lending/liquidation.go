// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"fmt"
	"math/big"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

const unwindTag = "lending/unwind"

// target loads the principal and position a liquidation or force-close acts
// on.
func (b *batch) target(account ids.ShortID, name string) (*Principal, Position, error) {
	if account == b.principal.ID {
		return nil, nil, ErrSelfLiquidation
	}
	target, err := b.store.GetPrincipal(account)
	if err != nil {
		return nil, nil, err
	}
	if target.IsLocked {
		return nil, nil, fmt.Errorf("%w: %s", ErrPrincipalLocked, account)
	}
	pos, ok := target.Position(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s of %s", ErrPositionNotFound, name, account)
	}
	return target, pos, nil
}

// unwoundAsset returns the liquidity token whose seized collateral must be
// unwound, or nil when seized collateral is credited as is.
func (b *batch) unwoundAsset(pos Position) (*ledger.Asset, error) {
	isolated, ok := pos.(*IsolatedPosition)
	if !ok {
		return nil, nil
	}
	asset, err := b.asset(isolated.Asset)
	if err != nil {
		return nil, err
	}
	if !asset.Config.IsLiquidityToken() {
		return nil, nil
	}
	return asset, nil
}

func checkMinTokenAmounts(asset *ledger.Asset, mins []TokenAmount) error {
	var underlying []ledger.AssetID
	if asset != nil {
		underlying = asset.Config.UnderlyingTokens
	}
	if len(mins) != len(underlying) {
		return fmt.Errorf("%w: got %d, want %d", ErrMinTokenAmounts, len(mins), len(underlying))
	}
	seen := make(map[ledger.AssetID]struct{}, len(mins))
	for _, m := range mins {
		if _, ok := seen[m.Asset]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, m.Asset)
		}
		seen[m.Asset] = struct{}{}
		if m.Amount == nil || m.Amount.Sign() < 0 {
			return fmt.Errorf("%w: %s has no amount", ErrMinTokenAmounts, m.Asset)
		}
	}
	for _, token := range underlying {
		if _, ok := seen[token]; !ok {
			return fmt.Errorf("%w: missing %s", ErrMinTokenAmounts, token)
		}
	}
	return nil
}

func (b *batch) Liquidate(a *Liquidate) error {
	name := positionName(a.Position)
	target, pos, err := b.target(a.Account, name)
	if err != nil {
		return err
	}
	oldDiscount, err := RiskDiscount(b.asset, b.book, pos)
	if err != nil {
		return err
	}
	if oldDiscount.Sign() == 0 {
		return fmt.Errorf("%w: %s of %s", ErrNotAtRisk, name, a.Account)
	}
	unwound, err := b.unwoundAsset(pos)
	if err != nil {
		return err
	}
	if err := checkMinTokenAmounts(unwound, a.MinTokenAmounts); err != nil {
		return err
	}

	shares := pos.Balances()
	repaid := new(big.Int)
	seenIn := make(map[ledger.AssetID]struct{}, len(a.InAssets))
	for i := range a.InAssets {
		in := &a.InAssets[i]
		if _, ok := seenIn[in.Asset]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, in.Asset)
		}
		seenIn[in.Asset] = struct{}{}

		value, err := b.repayFor(target, shares, in)
		if err != nil {
			return err
		}
		repaid.Add(repaid, value)
	}

	seized := new(big.Int)
	seizedAmount := new(big.Int)
	seenOut := make(map[ledger.AssetID]struct{}, len(a.OutAssets))
	for i := range a.OutAssets {
		out := &a.OutAssets[i]
		if _, ok := seenOut[out.Asset]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, out.Asset)
		}
		seenOut[out.Asset] = struct{}{}

		asset, err := b.asset(out.Asset)
		if err != nil {
			return err
		}
		outShares, amount, err := out.resolve(&asset.Supplied, get(shares.Collateral, out.Asset))
		if err != nil {
			return err
		}
		if err := sub(shares.Collateral, out.Asset, outShares); err != nil {
			return err
		}
		value, err := b.book.Value(asset, amount, true)
		if err != nil {
			return err
		}
		seized.Add(seized, value)

		if unwound != nil {
			if err := asset.AssertAvailable(amount); err != nil {
				return err
			}
			if err := asset.Supplied.Withdraw(outShares, amount); err != nil {
				return err
			}
			seizedAmount.Add(seizedAmount, amount)
			continue
		}
		b.principal.AddSupplied(out.Asset, outShares)
	}

	// seized * (1 - discount) <= repaid, both in unweighted prices
	lhs := new(big.Int).Sub(oracle.ValueScale, oldDiscount)
	lhs.Mul(lhs, seized)
	rhs := new(big.Int).Mul(repaid, oracle.ValueScale)
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: seized %s for repaid %s at discount %s", ErrLiquidationTooGreedy, seized, repaid, oldDiscount)
	}

	newDiscount, err := RiskDiscount(b.asset, b.book, pos)
	if err != nil {
		return err
	}
	switch {
	case newDiscount.Sign() == 0:
		return fmt.Errorf("%w: %s of %s", ErrLiquidationTooFar, name, a.Account)
	case newDiscount.Cmp(oldDiscount) >= 0:
		return fmt.Errorf("%w: discount %s -> %s", ErrLiquidationIneffective, oldDiscount, newDiscount)
	}
	target.PrunePosition(name)

	b.metrics.MarkLiquidation()
	b.log.Info("position liquidated",
		log.Stringer("liquidator", b.principal.ID),
		log.Stringer("account", a.Account),
		log.String("position", name),
		log.Stringer("repaid", repaid),
		log.Stringer("seized", seized),
		log.Stringer("oldDiscount", oldDiscount),
		log.Stringer("newDiscount", newDiscount),
	)

	if unwound == nil || seizedAmount.Sign() == 0 {
		return nil
	}
	return b.startUnwind(target, unwound, seizedAmount, a.MinTokenAmounts)
}

// repayFor pays down target's debt out of the liquidator's supply and returns
// the unweighted value repaid.
func (b *batch) repayFor(target *Principal, shares *Shares, in *AssetAmount) (*big.Int, error) {
	asset, err := b.asset(in.Asset)
	if err != nil {
		return nil, err
	}
	debtShares := get(shares.Borrowed, in.Asset)
	if debtShares.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s of %s", ErrNoDebt, in.Asset, target.ID)
	}
	debt := asset.Borrowed.SharesToAmount(debtShares, true)

	supplyShares, amount, err := in.resolve(&asset.Supplied, b.principal.SuppliedShares(in.Asset))
	if err != nil {
		return nil, err
	}
	repaidShares := debtShares
	if amount.Cmp(debt) >= 0 {
		amount = debt
		supplyShares = asset.Supplied.AmountToShares(amount, true)
	} else {
		repaidShares = asset.Borrowed.AmountToShares(amount, false)
	}
	if repaidShares.Sign() == 0 {
		return nil, ledger.ErrZeroShares
	}

	if err := b.principal.SubSupplied(in.Asset, supplyShares); err != nil {
		return nil, err
	}
	if err := asset.Supplied.Withdraw(supplyShares, amount); err != nil {
		return nil, err
	}
	if err := asset.Borrowed.Remove(repaidShares, safemath.Min(amount, asset.Borrowed.Balance)); err != nil {
		return nil, err
	}
	if err := sub(shares.Borrowed, in.Asset, repaidShares); err != nil {
		return nil, err
	}
	return b.book.Value(asset, amount, false)
}

// startUnwind locks both principals and asks the unwinder to redeem the
// seized liquidity tokens for the liquidator.
func (b *batch) startUnwind(target *Principal, asset *ledger.Asset, amount *big.Int, mins []TokenAmount) error {
	id, err := NewIntentID(b.store, unwindTag)
	if err != nil {
		return err
	}
	intent := &UnwindIntent{
		ID:              id,
		Liquidator:      b.principal.ID,
		Target:          target.ID,
		Asset:           asset.ID,
		Amount:          new(big.Int).Set(amount),
		MinTokenAmounts: mins,
		CreatedAt:       b.call.Now,
	}
	if err := b.store.PutUnwindIntent(intent); err != nil {
		return err
	}
	b.principal.IsLocked = true
	target.IsLocked = true
	if err := b.unwinder.Unwind(id, asset.ID, asset.ToToken(amount), mins); err != nil {
		return fmt.Errorf("failed to start unwind %s: %w", id, err)
	}
	b.log.Info("unwind started",
		log.Stringer("intentID", id),
		log.Stringer("asset", asset.ID),
		log.Stringer("amount", amount),
	)
	return nil
}

// OnUnwindResolved settles an unwind intent and unlocks both principals. On
// success every underlying token received is credited to the liquidator's
// supply; on failure the seized liquidity tokens are.
func (e *Engine) OnUnwindResolved(store Store, now uint64, id ids.ID, ok bool, received []TokenAmount) error {
	intent, err := store.GetUnwindIntent(id)
	if err != nil {
		return err
	}
	liquidator, err := store.GetPrincipal(intent.Liquidator)
	if err != nil {
		return err
	}
	target, err := store.GetPrincipal(intent.Target)
	if err != nil {
		return err
	}

	if ok {
		amounts := make(map[ledger.AssetID]*big.Int, len(received))
		for _, r := range received {
			amounts[r.Asset] = r.Amount
		}
		for _, m := range intent.MinTokenAmounts {
			got, found := amounts[m.Asset]
			if !found || got.Cmp(m.Amount) < 0 {
				return fmt.Errorf("%w: %s got %v, want %s", ErrUnwindShortfall, m.Asset, got, m.Amount)
			}
		}
		for _, m := range intent.MinTokenAmounts {
			asset, err := LoadAsset(store, m.Asset, now)
			if err != nil {
				return err
			}
			inner := asset.ToInner(amounts[m.Asset])
			if inner.Sign() == 0 {
				continue
			}
			if err := e.supply(liquidator, asset, inner); err != nil {
				return err
			}
		}
	} else {
		asset, err := LoadAsset(store, intent.Asset, now)
		if err != nil {
			return err
		}
		if err := e.supply(liquidator, asset, intent.Amount); err != nil {
			return err
		}
		e.metrics.MarkCompensation("unwind")
		e.log.Warn("unwind failed, liquidity tokens credited",
			log.Stringer("intentID", id),
			log.Stringer("liquidator", intent.Liquidator),
			log.Stringer("amount", intent.Amount),
		)
	}

	liquidator.IsLocked = false
	target.IsLocked = false
	return store.DeleteUnwindIntent(id)
}

func (b *batch) ForceClose(a *ForceClose) error {
	name := positionName(a.Position)
	target, pos, err := b.target(a.Account, name)
	if err != nil {
		return err
	}
	sums, err := PositionSums(b.asset, b.book, pos, false)
	if err != nil {
		return err
	}
	if sums.Borrowed.Cmp(sums.Collateral) <= 0 {
		return fmt.Errorf("%w: borrowed %s, collateral %s", ErrNotBadDebt, sums.Borrowed, sums.Collateral)
	}

	shares := pos.Balances()
	for _, id := range sortedAssets(shares.Collateral) {
		asset, err := b.asset(id)
		if err != nil {
			return err
		}
		s := shares.Collateral[id]
		amount := asset.Supplied.SharesToAmount(s, false)
		if err := asset.Supplied.Remove(s, amount); err != nil {
			return err
		}
		asset.DepositToReserve(amount)
	}
	for _, id := range sortedAssets(shares.Borrowed) {
		asset, err := b.asset(id)
		if err != nil {
			return err
		}
		s := shares.Borrowed[id]
		amount := safemath.Min(asset.Borrowed.SharesToAmount(s, true), asset.Borrowed.Balance)
		if err := asset.Borrowed.Remove(s, amount); err != nil {
			return err
		}
		if uncovered := asset.CoverShortfall(amount); uncovered.Sign() > 0 {
			b.log.Warn("reserve shortfall recorded as protocol debt",
				log.Stringer("asset", id),
				log.Stringer("uncovered", uncovered),
				log.Stringer("protocolDebt", asset.ProtocolDebt),
			)
		}
	}
	delete(target.Positions, name)

	b.metrics.MarkForceClose()
	b.log.Info("position force-closed",
		log.Stringer("caller", b.principal.ID),
		log.Stringer("account", a.Account),
		log.String("position", name),
		log.Stringer("collateral", sums.Collateral),
		log.Stringer("borrowed", sums.Borrowed),
	)
	return nil
}
