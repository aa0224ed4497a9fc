// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package margin

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/btree"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

const stopTreeDegree = 16

var _ btree.LessFunc[*StopOrder] = (*StopOrder).Less

// SetStop sets, updates or removes the stop order of one of the caller's
// positions. Setting both thresholds to nil removes the order and refunds
// its fee; a first order escrows the configured service fee.
func (e *Engine) SetStop(
	store lending.Store,
	call lending.Call,
	snapshot *oracle.PriceSnapshot,
	positionID ids.ID,
	profitBps, lossBps *uint32,
) error {
	book, err := e.verify(call, snapshot)
	if err != nil {
		return err
	}
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	account, pos, err := position(ms, call.Caller, positionID)
	if err != nil {
		return err
	}

	existing, err := ms.GetStopOrder(positionID)
	if err != nil && !errors.Is(err, ErrNoStopOrder) {
		return err
	}
	if profitBps == nil && lossBps == nil {
		if existing == nil {
			return fmt.Errorf("%w: no stop order on %s", ErrNothingToRemove, positionID)
		}
		return e.dropStop(ms, account, positionID)
	}
	if lossBps != nil && *lossBps >= ledger.MaxBps {
		return fmt.Errorf("%w: loss %d bps", ErrInvalidStop, *lossBps)
	}
	if pos.State != Open {
		return fmt.Errorf("%w: %s is %s", ErrPositionBusy, pos.ID, pos.State)
	}

	if existing != nil {
		existing.StopProfitBps = profitBps
		existing.StopLossBps = lossBps
		return ms.PutStopOrder(existing)
	}

	entry, err := priceRatio(book, pos)
	if err != nil {
		return err
	}
	feeAsset, feeAmount := e.config.StopFee()
	order := &StopOrder{
		PositionID:    positionID,
		Owner:         call.Caller,
		StopProfitBps: profitBps,
		StopLossBps:   lossBps,
		FeeAsset:      feeAsset,
		EscrowedFee:   new(big.Int),
		EntryPrice:    entry,
		CreatedAt:     call.Now,
	}
	if feeAmount.Sign() > 0 {
		asset, err := lending.LoadAsset(ms, feeAsset, call.Now)
		if err != nil {
			return err
		}
		shares := asset.Supplied.AmountToShares(feeAmount, true)
		if err := account.debit(feeAsset, shares); err != nil {
			return fmt.Errorf("stop order fee: %w", err)
		}
		order.EscrowedFee = shares
	}
	return ms.PutStopOrder(order)
}

// dropStop removes the stop order of a position, if any, and refunds its
// escrowed fee to account.
func (*Engine) dropStop(ms Store, account *Account, positionID ids.ID) error {
	order, err := ms.GetStopOrder(positionID)
	if errors.Is(err, ErrNoStopOrder) {
		return nil
	}
	if err != nil {
		return err
	}
	account.credit(order.FeeAsset, order.EscrowedFee)
	return ms.DeleteStopOrder(positionID)
}

// priceRatio is the position asset price over the debt asset price, scaled
// by 1e18.
func priceRatio(book *oracle.Book, pos *Position) (*big.Int, error) {
	posPrice, err := book.Get(pos.PositionAsset)
	if err != nil {
		return nil, err
	}
	debtPrice, err := book.Get(pos.DebtAsset)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(posPrice.Multiplier, safemath.Pow10(debtPrice.Decimals))
	den := new(big.Int).Mul(debtPrice.Multiplier, safemath.Pow10(posPrice.Decimals))
	return safemath.MulDiv(num, oracle.ValueScale, den, false), nil
}

// triggered reports whether the current ratio crossed either threshold.
func (o *StopOrder) triggered(ratio *big.Int) bool {
	if o.StopProfitBps != nil {
		limit := safemath.MulDiv(o.EntryPrice, big.NewInt(ledger.MaxBps+int64(*o.StopProfitBps)), bigMaxBps, true)
		if ratio.Cmp(limit) >= 0 {
			return true
		}
	}
	if o.StopLossBps != nil {
		limit := safemath.MulDiv(o.EntryPrice, big.NewInt(ledger.MaxBps-int64(*o.StopLossBps)), bigMaxBps, false)
		if ratio.Cmp(limit) <= 0 {
			return true
		}
	}
	return false
}

// TriggerStop closes a position whose stop order has triggered. The escrowed
// fee goes to the caller's margin account. Like an owner close, it waits out
// the minimum position duration.
func (e *Engine) TriggerStop(store lending.Store, call lending.Call, snapshot *oracle.PriceSnapshot, req *UnwindRequest) error {
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
	order, err := ms.GetStopOrder(req.PositionID)
	if err != nil {
		return err
	}
	if pos.State != Open {
		return fmt.Errorf("%w: %s is %s", ErrPositionBusy, pos.ID, pos.State)
	}
	if err := e.tooEarly(pos, call.Now); err != nil {
		return err
	}
	ratio, err := priceRatio(book, pos)
	if err != nil {
		return err
	}
	if !order.triggered(ratio) {
		return fmt.Errorf("%w: ratio %s, entry %s", ErrStopNotTriggered, ratio, order.EntryPrice)
	}

	keeper, err := ms.GetMarginAccount(call.Caller)
	if err != nil {
		return err
	}
	keeper.credit(order.FeeAsset, order.EscrowedFee)
	if err := ms.DeleteStopOrder(req.PositionID); err != nil {
		return err
	}
	e.log.Info("stop order triggered",
		log.Stringer("positionID", pos.ID),
		log.Stringer("keeper", call.Caller),
		log.Stringer("ratio", ratio),
	)
	req.Amount = nil
	return e.beginUnwind(ms, call, pos, SwapClose, req)
}

// Trigger identifies a stop order ready to be triggered.
type Trigger struct {
	Owner      ids.ShortID `json:"owner"`
	PositionID ids.ID      `json:"positionId"`
}

// ScanStops returns the stop orders that would trigger at the snapshot's
// prices, oldest first. It reads state only.
func (e *Engine) ScanStops(store lending.Store, now uint64, snapshot *oracle.PriceSnapshot) ([]Trigger, error) {
	book, err := snapshot.Verify(now, e.config.PriceLimits())
	if err != nil {
		return nil, err
	}
	ms, err := asStore(store)
	if err != nil {
		return nil, err
	}
	orders, err := ms.StopOrders()
	if err != nil {
		return nil, err
	}
	tree := btree.NewG(stopTreeDegree, (*StopOrder).Less)
	for _, order := range orders {
		tree.ReplaceOrInsert(order)
	}

	var (
		triggers []Trigger
		scanErr  error
	)
	tree.Ascend(func(order *StopOrder) bool {
		_, pos, err := position(ms, order.Owner, order.PositionID)
		if err != nil {
			scanErr = err
			return false
		}
		if pos.State != Open || e.tooEarly(pos, now) != nil {
			return true
		}
		ratio, err := priceRatio(book, pos)
		if err != nil {
			// Unpriced pairs are skipped rather than failing the scan.
			return true
		}
		if order.triggered(ratio) {
			triggers = append(triggers, Trigger{
				Owner:      order.Owner,
				PositionID: order.PositionID,
			})
		}
		return true
	})
	return triggers, scanErr
}
