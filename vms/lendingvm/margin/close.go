// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package margin

import (
	"fmt"
	"math/big"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
	"github.com/luxfi/lendingvm/vms/lendingvm/swap"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

// UnwindRequest swaps position tokens back into the debt asset. Amounts are
// inner amounts; a nil Amount unwinds the whole position.
type UnwindRequest struct {
	Owner        ids.ShortID     `json:"owner"`
	PositionID   ids.ID          `json:"positionId"`
	Amount       *big.Int        `json:"amount,omitempty"`
	MinAmountOut *big.Int        `json:"minAmountOut"`
	Indication   swap.Indication `json:"indication"`
}

// Decrease swaps part of the caller's position back. Proceeds pay fees and
// debt; the rest is credited to the margin account.
func (e *Engine) Decrease(store lending.Store, call lending.Call, snapshot *oracle.PriceSnapshot, req *UnwindRequest) error {
	if req.Amount == nil {
		return lending.ErrAmountRequired
	}
	return e.ownerUnwind(store, call, snapshot, req, SwapDecrease)
}

// Close swaps the caller's whole position back and settles it.
func (e *Engine) Close(store lending.Store, call lending.Call, snapshot *oracle.PriceSnapshot, req *UnwindRequest) error {
	req.Amount = nil
	return e.ownerUnwind(store, call, snapshot, req, SwapClose)
}

func (e *Engine) ownerUnwind(store lending.Store, call lending.Call, snapshot *oracle.PriceSnapshot, req *UnwindRequest, kind SwapKind) error {
	if _, err := e.verify(call, snapshot); err != nil {
		return err
	}
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	_, pos, err := position(ms, call.Caller, req.PositionID)
	if err != nil {
		return err
	}
	if err := e.tooEarly(pos, call.Now); err != nil {
		return err
	}
	return e.beginUnwind(ms, call, pos, kind, req)
}

// Liquidate unwinds someone else's position once it breaches the safety
// buffer or outlives the maximum duration. The caller receives part of the
// surplus.
func (e *Engine) Liquidate(store lending.Store, call lending.Call, snapshot *oracle.PriceSnapshot, req *UnwindRequest) error {
	book, err := e.verify(call, snapshot)
	if err != nil {
		return err
	}
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	pos, err := e.liquidatable(ms, call, book, req.Owner, req.PositionID)
	if err != nil {
		return err
	}
	req.Amount = nil
	return e.beginUnwind(ms, call, pos, SwapLiquidate, req)
}

// liquidatable returns the position if the caller may liquidate it.
func (e *Engine) liquidatable(ms Store, call lending.Call, book *oracle.Book, owner ids.ShortID, id ids.ID) (*Position, error) {
	if owner == call.Caller {
		return nil, lending.ErrSelfLiquidation
	}
	_, pos, err := position(ms, owner, id)
	if err != nil {
		return nil, err
	}
	if pos.State != Open {
		return nil, fmt.Errorf("%w: %s is %s", ErrPositionBusy, id, pos.State)
	}
	if e.expired(pos, call.Now) {
		return pos, nil
	}
	v, err := e.value(ms, call.Now, book, pos)
	if err != nil {
		return nil, err
	}
	if !v.belowBuffer(e.config.Margin.MinSafetyBufferBps) {
		return nil, fmt.Errorf("%w: %s", ErrPositionHealthy, id)
	}
	return pos, nil
}

// ForceClose unwinds a position whose value no longer covers its debt. The
// shortfall is absorbed by the debt asset's reserve.
func (e *Engine) ForceClose(store lending.Store, call lending.Call, snapshot *oracle.PriceSnapshot, req *UnwindRequest) error {
	book, err := e.verify(call, snapshot)
	if err != nil {
		return err
	}
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	_, pos, err := position(ms, req.Owner, req.PositionID)
	if err != nil {
		return err
	}
	if pos.State != Open {
		return fmt.Errorf("%w: %s is %s", ErrPositionBusy, pos.ID, pos.State)
	}
	v, err := e.value(ms, call.Now, book, pos)
	if err != nil {
		return err
	}
	if !v.underwater() {
		return fmt.Errorf("%w: %s", ErrNotUnderwater, pos.ID)
	}
	req.Amount = nil
	return e.beginUnwind(ms, call, pos, SwapForceClose, req)
}

// beginUnwind takes position tokens out of the position and swaps them for
// the debt asset.
func (e *Engine) beginUnwind(ms Store, call lending.Call, pos *Position, kind SwapKind, req *UnwindRequest) error {
	if pos.State != Open {
		return fmt.Errorf("%w: %s is %s", ErrPositionBusy, pos.ID, pos.State)
	}
	if req.MinAmountOut == nil {
		return lending.ErrAmountRequired
	}
	posAsset, err := lending.LoadAsset(ms, pos.PositionAsset, call.Now)
	if err != nil {
		return err
	}
	debt, err := lending.LoadAsset(ms, pos.DebtAsset, call.Now)
	if err != nil {
		return err
	}
	amount := pos.PositionAmount
	if req.Amount != nil {
		amount = safemath.Min(req.Amount, pos.PositionAmount)
	}
	amount = posAsset.FloorToToken(amount)
	if amount.Sign() == 0 {
		return ledger.ErrZeroAmount
	}
	pos.PositionAmount = new(big.Int).Sub(pos.PositionAmount, amount)
	posAsset.MarginPosition.Sub(posAsset.MarginPosition, amount)
	return e.startSwap(ms, call.Now, pos, kind, call.Caller, posAsset, amount, debt, req.MinAmountOut, req.Indication)
}

// settle applies the proceeds of a swap back into the debt asset: fees
// first, then debt. Full unwinds also cover any shortfall and close the
// position.
func (e *Engine) settle(ms Store, now uint64, account *Account, pos *Position, intent *SwapIntent, out *big.Int) error {
	debt, err := lending.LoadAsset(ms, pos.DebtAsset, now)
	if err != nil {
		return err
	}
	remaining, err := e.pay(debt, pos, out)
	if err != nil {
		return err
	}

	if intent.Kind == SwapDecrease {
		if err := supply(account, debt, remaining); err != nil {
			return err
		}
		if pos.DebtShares.Sign() == 0 && pos.UnpaidFee.Sign() == 0 {
			return e.finalize(ms, now, account, pos, false)
		}
		pos.State = Open
		return nil
	}

	if err := e.coverShortfall(ms, now, pos, debt, intent.Kind); err != nil {
		return err
	}

	switch intent.Kind {
	case SwapLiquidate:
		liquidatorPart := safemath.MulDiv(remaining, big.NewInt(int64(e.config.Margin.LiquidationBenefitLiquidatorBps)), bigMaxBps, false)
		protocolPart := safemath.MulDiv(remaining, big.NewInt(int64(e.config.Margin.LiquidationBenefitProtocolBps)), bigMaxBps, false)
		keeper, err := ms.GetMarginAccount(intent.Keeper)
		if err != nil {
			return err
		}
		if err := supply(keeper, debt, liquidatorPart); err != nil {
			return err
		}
		debt.DepositToReserve(protocolPart)
		remaining.Sub(remaining, liquidatorPart)
		remaining.Sub(remaining, protocolPart)
		e.log.Info("margin position liquidated",
			log.Stringer("positionID", pos.ID),
			log.Stringer("owner", pos.Owner),
			log.Stringer("liquidator", intent.Keeper),
			log.Stringer("liquidatorPart", liquidatorPart),
			log.Stringer("protocolPart", protocolPart),
		)
		if err := supply(account, debt, remaining); err != nil {
			return err
		}
	case SwapForceClose:
		debt.DepositToReserve(remaining)
		e.log.Info("margin position force-closed",
			log.Stringer("positionID", pos.ID),
			log.Stringer("owner", pos.Owner),
		)
	default:
		if err := supply(account, debt, remaining); err != nil {
			return err
		}
	}
	return e.finalize(ms, now, account, pos, intent.Kind == SwapForceClose)
}

// pay applies amount of the debt asset to fees and then debt, returning what
// is left.
func (*Engine) pay(debt *ledger.Asset, pos *Position, amount *big.Int) (*big.Int, error) {
	owed := accrue(debt, pos)
	remaining := new(big.Int).Set(amount)

	fee := safemath.Min(remaining, pos.UnpaidFee)
	pos.UnpaidFee.Sub(pos.UnpaidFee, fee)
	debt.DepositToReserve(fee)
	remaining.Sub(remaining, fee)

	repay := safemath.Min(remaining, owed)
	if repay.Sign() == 0 {
		return remaining, nil
	}
	shares := pos.DebtShares
	if repay.Cmp(owed) < 0 {
		shares = debt.MarginDebt.AmountToShares(repay, false)
	}
	if shares.Sign() == 0 {
		// Too small to retire a share.
		debt.DepositToReserve(repay)
		return remaining.Sub(remaining, repay), nil
	}
	if err := debt.MarginDebt.Remove(shares, safemath.Min(repay, debt.MarginDebt.Balance)); err != nil {
		return nil, err
	}
	pos.DebtShares = new(big.Int).Sub(pos.DebtShares, shares)
	return remaining.Sub(remaining, repay), nil
}

// coverShortfall settles whatever fees and debt the swap proceeds left
// unpaid. Collateral in the debt asset pays first. Collateral in another
// asset is forfeited to that asset's reserve, and the debt asset's reserve
// covers the rest, recording protocol debt if it runs dry.
func (e *Engine) coverShortfall(ms Store, now uint64, pos *Position, debt *ledger.Asset, kind SwapKind) error {
	owed := accrue(debt, pos)
	if owed.Sign() == 0 && pos.UnpaidFee.Sign() == 0 {
		return nil
	}
	collateral, err := lending.LoadAsset(ms, pos.CollateralAsset, now)
	if err != nil {
		return err
	}

	if pos.CollateralShares.Sign() > 0 {
		available := collateral.Supplied.SharesToAmount(pos.CollateralShares, false)
		if collateral.ID == debt.ID {
			take := safemath.Min(available, new(big.Int).Add(owed, pos.UnpaidFee))
			shares := pos.CollateralShares
			if take.Cmp(available) < 0 {
				shares = safemath.Min(collateral.Supplied.AmountToShares(take, true), pos.CollateralShares)
			}
			if err := collateral.Supplied.Remove(shares, take); err != nil {
				return err
			}
			pos.CollateralShares = new(big.Int).Sub(pos.CollateralShares, shares)
			left, err := e.pay(debt, pos, take)
			if err != nil {
				return err
			}
			debt.DepositToReserve(left)
			owed = accrue(debt, pos)
		} else {
			if err := collateral.Supplied.Remove(pos.CollateralShares, available); err != nil {
				return err
			}
			collateral.DepositToReserve(available)
			pos.CollateralShares = new(big.Int)
		}
	}

	if pos.UnpaidFee.Sign() > 0 {
		e.log.Warn("margin fees forgiven",
			log.Stringer("positionID", pos.ID),
			log.Stringer("fee", pos.UnpaidFee),
		)
		pos.UnpaidFee = new(big.Int)
	}
	if pos.DebtShares.Sign() == 0 {
		return nil
	}
	if err := debt.MarginDebt.Remove(pos.DebtShares, safemath.Min(owed, debt.MarginDebt.Balance)); err != nil {
		return err
	}
	pos.DebtShares = new(big.Int)
	if uncovered := debt.CoverShortfall(owed); uncovered.Sign() > 0 {
		e.log.Warn("margin shortfall recorded as protocol debt",
			log.Stringer("positionID", pos.ID),
			log.Stringer("kind", kind),
			log.Stringer("asset", debt.ID),
			log.Stringer("uncovered", uncovered),
		)
	}
	return nil
}

// finalize returns what is left of a position to its owner, or to the
// reserves when forfeit is set, and deletes it.
func (e *Engine) finalize(ms Store, now uint64, account *Account, pos *Position, forfeit bool) error {
	collateral, err := lending.LoadAsset(ms, pos.CollateralAsset, now)
	if err != nil {
		return err
	}
	posAsset, err := lending.LoadAsset(ms, pos.PositionAsset, now)
	if err != nil {
		return err
	}

	if pos.CollateralShares.Sign() > 0 {
		if forfeit {
			amount := collateral.Supplied.SharesToAmount(pos.CollateralShares, false)
			if err := collateral.Supplied.Remove(pos.CollateralShares, amount); err != nil {
				return err
			}
			collateral.DepositToReserve(amount)
		} else {
			account.credit(collateral.ID, pos.CollateralShares)
		}
		pos.CollateralShares = new(big.Int)
	}
	if pos.PositionAmount.Sign() > 0 {
		posAsset.MarginPosition.Sub(posAsset.MarginPosition, pos.PositionAmount)
		if forfeit {
			posAsset.DepositToReserve(pos.PositionAmount)
		} else if err := supply(account, posAsset, pos.PositionAmount); err != nil {
			return err
		}
		pos.PositionAmount = new(big.Int)
	}
	if err := e.dropStop(ms, account, pos.ID); err != nil {
		return err
	}
	delete(account.Positions, pos.ID)
	pos.State = Closed
	e.log.Debug("margin position closed",
		log.Stringer("positionID", pos.ID),
		log.Stringer("owner", pos.Owner),
	)
	return nil
}

// DirectLiquidate settles an unhealthy position without a swap: position
// tokens and collateral go to the liquidator's ordinary supply, and the debt
// plus unpaid fees become the liquidator's regular borrow.
func (e *Engine) DirectLiquidate(store lending.Store, now uint64, book *oracle.Book, liquidator, owner ids.ShortID, id ids.ID) error {
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	pos, err := e.liquidatable(ms, lending.Call{Caller: liquidator, Now: now}, book, owner, id)
	if err != nil {
		return err
	}
	account, err := ms.GetMarginAccount(owner)
	if err != nil {
		return err
	}
	principal, err := ms.GetPrincipal(liquidator)
	if err != nil {
		return err
	}
	collateral, err := lending.LoadAsset(ms, pos.CollateralAsset, now)
	if err != nil {
		return err
	}
	debt, err := lending.LoadAsset(ms, pos.DebtAsset, now)
	if err != nil {
		return err
	}
	posAsset, err := lending.LoadAsset(ms, pos.PositionAsset, now)
	if err != nil {
		return err
	}

	if pos.PositionAmount.Sign() > 0 {
		shares := posAsset.Supplied.AmountToShares(pos.PositionAmount, false)
		if err := posAsset.Supplied.Deposit(shares, pos.PositionAmount); err != nil {
			return err
		}
		posAsset.MarginPosition.Sub(posAsset.MarginPosition, pos.PositionAmount)
		principal.AddSupplied(posAsset.ID, shares)
		pos.PositionAmount = new(big.Int)
	}
	principal.AddSupplied(collateral.ID, pos.CollateralShares)
	pos.CollateralShares = new(big.Int)

	owed := accrue(debt, pos)
	if err := debt.MarginDebt.Remove(pos.DebtShares, safemath.Min(owed, debt.MarginDebt.Balance)); err != nil {
		return err
	}
	pos.DebtShares = new(big.Int)
	total := new(big.Int).Add(owed, pos.UnpaidFee)
	borrowed := debt.Borrowed.AmountToShares(total, true)
	if err := debt.Borrowed.Deposit(borrowed, total); err != nil {
		return err
	}
	debt.DepositToReserve(pos.UnpaidFee)
	pos.UnpaidFee = new(big.Int)
	principal.GetOrCreatePosition(lending.RegularPositionName).Balances().AddBorrowed(debt.ID, borrowed)

	if err := e.finalize(ms, now, account, pos, false); err != nil {
		return err
	}
	e.metrics.MarkMarginOp("direct_liquidate")
	e.log.Info("margin position directly liquidated",
		log.Stringer("positionID", id),
		log.Stringer("owner", owner),
		log.Stringer("liquidator", liquidator),
		log.Stringer("debt", total),
	)
	return nil
}
