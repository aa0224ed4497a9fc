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

// OpenRequest opens a position. Amounts are inner amounts.
type OpenRequest struct {
	CollateralAsset   ledger.AssetID  `json:"collateralAsset"`
	CollateralAmount  *big.Int        `json:"collateralAmount"`
	DebtAsset         ledger.AssetID  `json:"debtAsset"`
	DebtAmount        *big.Int        `json:"debtAmount"`
	PositionAsset     ledger.AssetID  `json:"positionAsset"`
	MinPositionAmount *big.Int        `json:"minPositionAmount"`
	Indication        swap.Indication `json:"indication"`
}

// Open escrows collateral, reserves margin debt and swaps the debt into the
// position asset. The position becomes Open when the swap settles.
func (e *Engine) Open(store lending.Store, call lending.Call, snapshot *oracle.PriceSnapshot, req *OpenRequest) (ids.ID, error) {
	book, err := e.verify(call, snapshot)
	if err != nil {
		return ids.Empty, err
	}
	ms, err := asStore(store)
	if err != nil {
		return ids.Empty, err
	}
	account, err := ms.GetMarginAccount(call.Caller)
	if err != nil {
		return ids.Empty, err
	}
	if n := len(account.Positions); n >= int(e.config.Margin.MaxNumPositions) {
		return ids.Empty, fmt.Errorf("%w: %d open", ErrTooManyPositions, n)
	}
	if req.DebtAsset == req.PositionAsset {
		return ids.Empty, ErrSameAsset
	}
	for _, v := range []*big.Int{req.CollateralAmount, req.DebtAmount, req.MinPositionAmount} {
		if v == nil || v.Sign() <= 0 {
			return ids.Empty, ledger.ErrZeroAmount
		}
	}

	collateral, err := lending.LoadAsset(ms, req.CollateralAsset, call.Now)
	if err != nil {
		return ids.Empty, err
	}
	debt, err := lending.LoadAsset(ms, req.DebtAsset, call.Now)
	if err != nil {
		return ids.Empty, err
	}
	posAsset, err := lending.LoadAsset(ms, req.PositionAsset, call.Now)
	if err != nil {
		return ids.Empty, err
	}
	if !collateral.Config.CanUseAsCollateral {
		return ids.Empty, fmt.Errorf("%w: %s", ledger.ErrCollateralDisabled, collateral.ID)
	}
	if !debt.Config.CanBorrow {
		return ids.Empty, fmt.Errorf("%w: %s", ledger.ErrBorrowDisabled, debt.ID)
	}

	debtAmount := debt.FloorToToken(req.DebtAmount)
	if debtAmount.Sign() == 0 {
		return ids.Empty, ledger.ErrZeroAmount
	}
	collateralShares := collateral.Supplied.AmountToShares(req.CollateralAmount, true)
	if err := account.debit(collateral.ID, collateralShares); err != nil {
		return ids.Empty, fmt.Errorf("collateral %s: %w", collateral.ID, err)
	}
	fee := safemath.MulDiv(debtAmount, big.NewInt(int64(e.config.Margin.OpenPositionFeeBps)), bigMaxBps, true)

	pos := &Position{
		Owner:            call.Caller,
		CollateralAsset:  collateral.ID,
		CollateralShares: collateralShares,
		DebtAsset:        debt.ID,
		DebtShares:       new(big.Int),
		PendingDebt:      debtAmount,
		PositionAsset:    posAsset.ID,
		PositionAmount:   new(big.Int),
		UnpaidFee:        fee,
		HoldingFeeIndex:  new(big.Int).Set(debt.HoldingFeeIndex),
		OpenedAt:         call.Now,
		State:            Opening,
	}
	v, err := e.value(ms, call.Now, book, pos)
	if err != nil {
		return ids.Empty, err
	}
	// Value the position at its guaranteed minimum.
	v.position, err = book.Value(posAsset, req.MinPositionAmount, false)
	if err != nil {
		return ids.Empty, err
	}
	leverage := new(big.Int).Mul(v.collateral, big.NewInt(int64(e.config.Margin.MaxLeverageRate)))
	if new(big.Int).Mul(v.debt, bigMaxBps).Cmp(leverage) > 0 {
		return ids.Empty, fmt.Errorf("%w: debt %s, collateral %s", ErrLeverageTooHigh, v.debt, v.collateral)
	}
	if !v.healthy(e.config.Margin.MinSafetyBufferBps) {
		return ids.Empty, fmt.Errorf("%w: debt %s, collateral %s, position %s", ErrUnhealthyOpen, v.debt, v.collateral, v.position)
	}

	if err := debt.AssertAvailable(debtAmount); err != nil {
		return ids.Empty, err
	}
	debt.MarginPendingDebt.Add(debt.MarginPendingDebt, debtAmount)

	pos.ID, err = lending.NewIntentID(ms, positionTag)
	if err != nil {
		return ids.Empty, err
	}
	account.Positions[pos.ID] = pos
	err = e.startSwap(ms, call.Now, pos, SwapOpen, call.Caller, debt, debtAmount, posAsset, req.MinPositionAmount, req.Indication)
	if err != nil {
		return ids.Empty, err
	}
	e.log.Debug("margin position opening",
		log.Stringer("positionID", pos.ID),
		log.Stringer("owner", call.Caller),
		log.Stringer("debt", debtAmount),
		log.Stringer("fee", fee),
	)
	return pos.ID, nil
}

// OnSwapResolved settles a swap intent. amountOut is in token units of the
// output token and is ignored when ok is false.
func (e *Engine) OnSwapResolved(store lending.Store, now uint64, id ids.ID, ok bool, amountOut *big.Int) error {
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	intent, err := ms.GetSwapIntent(id)
	if err != nil {
		return err
	}
	account, pos, err := position(ms, intent.Owner, intent.PositionID)
	if err != nil {
		return err
	}
	tokenIn, err := lending.LoadAsset(ms, intent.TokenIn, now)
	if err != nil {
		return err
	}
	tokenOut, err := lending.LoadAsset(ms, intent.TokenOut, now)
	if err != nil {
		return err
	}

	var out *big.Int
	if ok {
		out = tokenOut.ToInner(amountOut)
		if out.Cmp(intent.MinAmountOut) < 0 {
			return fmt.Errorf("%w: %s < %s", ErrSlippage, out, intent.MinAmountOut)
		}
	}
	if err := ms.DeleteSwapIntent(id); err != nil {
		return err
	}
	pos.PendingSwap = ids.Empty

	if intent.Kind == SwapOpen {
		return e.resolveOpen(ms, account, pos, tokenIn, tokenOut, out)
	}
	if !ok {
		// The position tokens came back unswapped.
		pos.PositionAmount.Add(pos.PositionAmount, intent.AmountIn)
		tokenIn.MarginPosition.Add(tokenIn.MarginPosition, intent.AmountIn)
		pos.State = Open
		e.metrics.MarkCompensation("margin_" + intent.Kind.String())
		e.log.Warn("margin swap failed, position restored",
			log.Stringer("intentID", id),
			log.Stringer("positionID", pos.ID),
			log.Stringer("kind", intent.Kind),
		)
		return nil
	}
	return e.settle(ms, now, account, pos, intent, out)
}

func (e *Engine) resolveOpen(ms Store, account *Account, pos *Position, debt, posAsset *ledger.Asset, out *big.Int) error {
	debt.MarginPendingDebt.Sub(debt.MarginPendingDebt, pos.PendingDebt)

	if out == nil {
		account.credit(pos.CollateralAsset, pos.CollateralShares)
		delete(account.Positions, pos.ID)
		pos.State = Closed
		e.metrics.MarkCompensation("margin_open")
		e.log.Warn("margin open swap failed, collateral released",
			log.Stringer("positionID", pos.ID),
			log.Stringer("owner", pos.Owner),
		)
		return nil
	}

	shares := debt.MarginDebt.AmountToShares(pos.PendingDebt, true)
	if err := debt.MarginDebt.Deposit(shares, pos.PendingDebt); err != nil {
		return err
	}
	pos.DebtShares = shares
	pos.PendingDebt = new(big.Int)
	pos.HoldingFeeIndex = new(big.Int).Set(debt.HoldingFeeIndex)
	pos.PositionAmount = new(big.Int).Set(out)
	posAsset.MarginPosition.Add(posAsset.MarginPosition, out)
	pos.State = Open
	e.log.Debug("margin position open",
		log.Stringer("positionID", pos.ID),
		log.Stringer("positionAmount", out),
	)
	return nil
}
