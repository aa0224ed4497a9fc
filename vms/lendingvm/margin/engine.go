// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package margin implements leveraged positions: collateral escrowed from a
// margin account, debt borrowed from the segregated margin debt pool and
// swapped into the position asset through an external exchange.
package margin

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/config"
	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/metrics"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
	"github.com/luxfi/lendingvm/vms/lendingvm/swap"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

const (
	positionTag = "margin/position"
	swapTag     = "margin/swap"
)

var (
	_ lending.MarginEngine = (*Engine)(nil)

	bigMaxBps = big.NewInt(ledger.MaxBps)
)

// Engine drives margin positions through their swap legs.
type Engine struct {
	config  *config.Config
	log     log.Logger
	metrics metrics.Metrics
	lending *lending.Engine
	swapper swap.Swapper
}

// NewEngine returns a margin engine sharing the lending engine's config and
// transfer path.
func NewEngine(lendingEngine *lending.Engine, logger log.Logger, m metrics.Metrics, swapper swap.Swapper) *Engine {
	return &Engine{
		config:  lendingEngine.Config(),
		log:     logger,
		metrics: m,
		lending: lendingEngine,
		swapper: swapper,
	}
}

func asStore(store lending.Store) (Store, error) {
	ms, ok := store.(Store)
	if !ok {
		return nil, ErrWrongStore
	}
	return ms, nil
}

func (e *Engine) verify(call lending.Call, snapshot *oracle.PriceSnapshot) (*oracle.Book, error) {
	if call.AttachedStake != 1 {
		return nil, lending.ErrInvalidAttachedStake
	}
	return snapshot.Verify(call.Now, e.config.PriceLimits())
}

// position loads the owner's account and one of its positions.
func position(ms Store, owner ids.ShortID, id ids.ID) (*Account, *Position, error) {
	account, err := ms.GetMarginAccount(owner)
	if err != nil {
		return nil, nil, err
	}
	pos, ok := account.Positions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s of %s", ErrPositionNotFound, id, owner)
	}
	return account, pos, nil
}

// Deposit credits tokenAmount of token to the caller's margin account.
func (e *Engine) Deposit(store lending.Store, call lending.Call, token ledger.AssetID, tokenAmount *big.Int) error {
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	asset, err := lending.LoadAsset(ms, token, call.Now)
	if err != nil {
		return err
	}
	if !asset.Config.CanDeposit {
		return fmt.Errorf("%w: %s", ledger.ErrDepositDisabled, token)
	}
	account, err := ms.GetMarginAccount(call.Caller)
	if err != nil {
		return err
	}
	if err := supply(account, asset, asset.ToInner(tokenAmount)); err != nil {
		return err
	}
	return asset.AssertSupplyCap(e.config.IsReliableLiquidator(call.Caller))
}

// supply deposits amount into the supplied pool on behalf of account. An
// amount too small to mint a share goes to the reserve.
func supply(account *Account, asset *ledger.Asset, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	shares := asset.Supplied.AmountToShares(amount, false)
	if shares.Sign() == 0 {
		asset.DepositToReserve(amount)
		return nil
	}
	if err := asset.Supplied.Deposit(shares, amount); err != nil {
		return err
	}
	account.credit(asset.ID, shares)
	return nil
}

// Withdraw sends amount of token from the caller's margin account. A nil
// amount withdraws everything.
func (e *Engine) Withdraw(store lending.Store, call lending.Call, token ledger.AssetID, amount *big.Int) error {
	if call.AttachedStake != 1 {
		return lending.ErrInvalidAttachedStake
	}
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	asset, err := lending.LoadAsset(ms, token, call.Now)
	if err != nil {
		return err
	}
	if !asset.Config.CanWithdraw {
		return fmt.Errorf("%w: %s", ledger.ErrWithdrawDisabled, token)
	}
	account, err := ms.GetMarginAccount(call.Caller)
	if err != nil {
		return err
	}
	available := asset.Supplied.SharesToAmount(account.SuppliedShares(token), false)
	if amount == nil {
		amount = available
	}
	amount = asset.FloorToToken(safemath.Min(amount, available))
	if amount.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}
	if err := asset.AssertAvailable(amount); err != nil {
		return err
	}
	shares := asset.Supplied.AmountToShares(amount, true)
	if err := account.debit(token, shares); err != nil {
		return err
	}
	if err := asset.Supplied.Withdraw(shares, amount); err != nil {
		return err
	}
	return e.lending.SendTransfer(ms, lending.SourceMargin, call.Caller, asset, amount, call.Now)
}

// Recredit returns a failed margin withdrawal to its account.
func (*Engine) Recredit(store lending.Store, now uint64, intent *lending.TransferIntent) error {
	ms, err := asStore(store)
	if err != nil {
		return err
	}
	asset, err := lending.LoadAsset(ms, intent.Asset, now)
	if err != nil {
		return err
	}
	account, err := ms.GetMarginAccount(intent.Receiver)
	if err != nil {
		return err
	}
	return supply(account, asset, intent.Amount)
}

// accrue folds holding fees accrued since the last snapshot into the unpaid
// fee and returns the current debt.
func accrue(debt *ledger.Asset, pos *Position) *big.Int {
	if pos.DebtShares.Sign() == 0 {
		return new(big.Int)
	}
	amount := debt.MarginDebt.SharesToAmount(pos.DebtShares, true)
	if debt.HoldingFeeIndex.Cmp(pos.HoldingFeeIndex) > 0 {
		growth := new(big.Int).Sub(debt.HoldingFeeIndex, pos.HoldingFeeIndex)
		fee := safemath.MulDiv(amount, growth, pos.HoldingFeeIndex, true)
		pos.UnpaidFee.Add(pos.UnpaidFee, fee)
		pos.HoldingFeeIndex = new(big.Int).Set(debt.HoldingFeeIndex)
	}
	return amount
}

// valuation holds the USD values of a position scaled by 1e18.
type valuation struct {
	collateral *big.Int
	position   *big.Int
	debt       *big.Int
	fee        *big.Int
}

func (e *Engine) value(ms Store, now uint64, book *oracle.Book, pos *Position) (valuation, error) {
	collateral, err := lending.LoadAsset(ms, pos.CollateralAsset, now)
	if err != nil {
		return valuation{}, err
	}
	debt, err := lending.LoadAsset(ms, pos.DebtAsset, now)
	if err != nil {
		return valuation{}, err
	}
	posAsset, err := lending.LoadAsset(ms, pos.PositionAsset, now)
	if err != nil {
		return valuation{}, err
	}

	var (
		v    valuation
		errs error
	)
	collateralAmount := collateral.Supplied.SharesToAmount(pos.CollateralShares, false)
	v.collateral, err = book.Value(collateral, collateralAmount, false)
	errs = errors.Join(errs, err)
	v.position, err = book.Value(posAsset, pos.PositionAmount, false)
	errs = errors.Join(errs, err)
	debtAmount := accrue(debt, pos)
	debtAmount.Add(debtAmount, pos.PendingDebt)
	v.debt, err = book.Value(debt, debtAmount, true)
	errs = errors.Join(errs, err)
	v.fee, err = book.Value(debt, pos.UnpaidFee, true)
	errs = errors.Join(errs, err)
	return v, errs
}

// cmpBuffer compares (collateral + position) with (debt + fee) * (1 + buffer).
func (v valuation) cmpBuffer(bufferBps uint32) int {
	have := new(big.Int).Add(v.collateral, v.position)
	have.Mul(have, bigMaxBps)
	owe := new(big.Int).Add(v.debt, v.fee)
	owe.Mul(owe, big.NewInt(ledger.MaxBps+int64(bufferBps)))
	return have.Cmp(owe)
}

// healthy reports (collateral + position) > (debt + fee) * (1 + buffer).
func (v valuation) healthy(bufferBps uint32) bool {
	return v.cmpBuffer(bufferBps) > 0
}

// belowBuffer reports (collateral + position) < (debt + fee) * (1 + buffer).
// A position sitting exactly on the buffer is neither.
func (v valuation) belowBuffer(bufferBps uint32) bool {
	return v.cmpBuffer(bufferBps) < 0
}

// underwater reports (collateral + position) < (debt + fee).
func (v valuation) underwater() bool {
	have := new(big.Int).Add(v.collateral, v.position)
	owe := new(big.Int).Add(v.debt, v.fee)
	return have.Cmp(owe) < 0
}

// expired reports whether pos outlived the maximum position duration.
func (e *Engine) expired(pos *Position, now uint64) bool {
	limit := uint64(e.config.Margin.MaxPositionDuration)
	return limit > 0 && now > pos.OpenedAt && now-pos.OpenedAt > limit
}

func (e *Engine) tooEarly(pos *Position, now uint64) error {
	if now < pos.OpenedAt+uint64(e.config.Margin.MinPositionDuration) {
		return fmt.Errorf("%w: opened at %d", ErrTooEarly, pos.OpenedAt)
	}
	return nil
}

// tokenCeil scales an inner amount to token units, rounding up.
func tokenCeil(asset *ledger.Asset, inner *big.Int) *big.Int {
	return safemath.Div(inner, safemath.Pow10(asset.Config.ExtraDecimals), true)
}

// startSwap records a swap intent for pos and hands it to the swapper.
func (e *Engine) startSwap(
	ms Store,
	now uint64,
	pos *Position,
	kind SwapKind,
	keeper ids.ShortID,
	tokenIn *ledger.Asset,
	amountIn *big.Int,
	tokenOut *ledger.Asset,
	minAmountOut *big.Int,
	indication swap.Indication,
) error {
	id, err := lending.NewIntentID(ms, swapTag)
	if err != nil {
		return err
	}
	intent := &SwapIntent{
		ID:           id,
		Kind:         kind,
		Owner:        pos.Owner,
		PositionID:   pos.ID,
		Keeper:       keeper,
		TokenIn:      tokenIn.ID,
		AmountIn:     new(big.Int).Set(amountIn),
		TokenOut:     tokenOut.ID,
		MinAmountOut: new(big.Int).Set(minAmountOut),
		CreatedAt:    now,
	}
	if err := ms.PutSwapIntent(intent); err != nil {
		return err
	}
	pos.PendingSwap = id
	pos.State = kind.state()
	err = e.swapper.Swap(
		id,
		tokenIn.ID,
		tokenIn.ToToken(amountIn),
		tokenOut.ID,
		tokenCeil(tokenOut, minAmountOut),
		indication,
	)
	if err != nil {
		return fmt.Errorf("failed to start %s swap %s: %w", kind, id, err)
	}
	e.metrics.MarkMarginOp(kind.String())
	e.log.Debug("margin swap started",
		log.Stringer("intentID", id),
		log.Stringer("positionID", pos.ID),
		log.Stringer("kind", kind),
		log.Stringer("tokenIn", tokenIn.ID),
		log.Stringer("amountIn", amountIn),
	)
	return nil
}
