// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lending implements the principal ledger: supply, positions, the
// batch action executor, risk checks, liquidation and force-close.
package lending

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/lendingvm/vms/lendingvm/config"
	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/metrics"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
)

// Engine applies calls to a Store. It holds no ledger state of its own.
type Engine struct {
	config     *config.Config
	log        log.Logger
	metrics    metrics.Metrics
	transferer Transferer
	unwinder   Unwinder
	margin     MarginEngine
}

// NewEngine returns an engine over a verified config.
func NewEngine(
	cfg *config.Config,
	logger log.Logger,
	m metrics.Metrics,
	transferer Transferer,
	unwinder Unwinder,
) *Engine {
	return &Engine{
		config:     cfg,
		log:        logger,
		metrics:    m,
		transferer: transferer,
		unwinder:   unwinder,
	}
}

// SetMarginEngine installs the margin engine used for margin liquidations and
// failed margin withdrawals.
func (e *Engine) SetMarginEngine(m MarginEngine) {
	e.margin = m
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// LoadAsset fetches an asset and accrues it up to now. Loading the same asset
// twice within a call returns the already accrued record.
func LoadAsset(store Store, id ledger.AssetID, now uint64) (*ledger.Asset, error) {
	asset, err := store.GetAsset(id)
	if err != nil {
		return nil, err
	}
	asset.Touch(now)
	return asset, nil
}

// Execute runs a batch for the caller against a price snapshot.
func (e *Engine) Execute(store Store, call Call, snapshot *oracle.PriceSnapshot, actions []Action) error {
	if call.AttachedStake != 1 {
		return ErrInvalidAttachedStake
	}
	book, err := snapshot.Verify(call.Now, e.config.PriceLimits())
	if err != nil {
		return err
	}
	return e.run(store, call, call.Caller, book, actions)
}

// ExecuteWithOracleCallback runs a batch the oracle forwards on behalf of
// account together with the prices it was asked for.
func (e *Engine) ExecuteWithOracleCallback(
	store Store,
	call Call,
	account ids.ShortID,
	snapshot *oracle.PriceSnapshot,
	actions []Action,
) error {
	if call.Caller != e.config.OracleID() {
		return fmt.Errorf("%w: %s is not the oracle", ErrUnauthorized, call.Caller)
	}
	if call.AttachedStake != 1 {
		return ErrInvalidAttachedStake
	}
	book, err := snapshot.Verify(call.Now, e.config.PriceLimits())
	if err != nil {
		return err
	}
	return e.run(store, call, account, book, actions)
}

// Deposit credits tokenAmount of token to the caller's supply, then runs
// actions without a price snapshot. Only fallback prices are available to
// those actions.
func (e *Engine) Deposit(store Store, call Call, token ledger.AssetID, tokenAmount *big.Int, actions []Action) error {
	book, err := (*oracle.PriceSnapshot)(nil).Verify(call.Now, e.config.PriceLimits())
	if err != nil {
		return err
	}
	b, err := e.newBatch(store, call, call.Caller, book)
	if err != nil {
		return err
	}
	asset, err := b.asset(token)
	if err != nil {
		return err
	}
	if !asset.Config.CanDeposit {
		return fmt.Errorf("%w: %s", ledger.ErrDepositDisabled, token)
	}
	if err := e.supply(b.principal, asset, asset.ToInner(tokenAmount)); err != nil {
		return err
	}
	if err := asset.AssertSupplyCap(b.bypass); err != nil {
		return err
	}
	return b.apply(actions)
}

// DepositToReserve adds tokenAmount of token to its reserve. Outstanding
// protocol debt is repaid first.
func (e *Engine) DepositToReserve(store Store, call Call, token ledger.AssetID, tokenAmount *big.Int) error {
	asset, err := LoadAsset(store, token, call.Now)
	if err != nil {
		return err
	}
	amount := asset.ToInner(tokenAmount)
	if amount.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}
	asset.DepositToReserve(amount)
	e.log.Debug("reserve deposit",
		log.Stringer("asset", token),
		log.Stringer("amount", amount),
		log.Stringer("protocolDebt", asset.ProtocolDebt),
	)
	return nil
}

// supply credits amount to principal's supplied shares.
func (*Engine) supply(principal *Principal, asset *ledger.Asset, amount *big.Int) error {
	shares := asset.Supplied.AmountToShares(amount, false)
	if err := asset.Supplied.Deposit(shares, amount); err != nil {
		return err
	}
	principal.AddSupplied(asset.ID, shares)
	return nil
}

func (e *Engine) run(store Store, call Call, account ids.ShortID, book *oracle.Book, actions []Action) error {
	b, err := e.newBatch(store, call, account, book)
	if err != nil {
		return err
	}
	return b.apply(actions)
}

// batch is the execution context of one call. It implements Visitor.
type batch struct {
	*Engine

	store     Store
	call      Call
	book      *oracle.Book
	principal *Principal
	bypass    bool

	assets map[ledger.AssetID]*ledger.Asset
	// positions of principal that need the deferred risk check
	checks set.Set[string]
}

func (e *Engine) newBatch(store Store, call Call, account ids.ShortID, book *oracle.Book) (*batch, error) {
	principal, err := store.GetPrincipal(account)
	if err != nil {
		return nil, err
	}
	if principal.IsLocked {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalLocked, account)
	}
	return &batch{
		Engine:    e,
		store:     store,
		call:      call,
		book:      book,
		principal: principal,
		bypass:    e.config.IsReliableLiquidator(account),
		assets:    make(map[ledger.AssetID]*ledger.Asset),
		checks:    set.NewSet[string](1),
	}, nil
}

// asset loads and accrues id once per batch.
func (b *batch) asset(id ledger.AssetID) (*ledger.Asset, error) {
	if asset, ok := b.assets[id]; ok {
		return asset, nil
	}
	asset, err := LoadAsset(b.store, id, b.call.Now)
	if err != nil {
		return nil, err
	}
	b.assets[id] = asset
	return asset, nil
}

func (b *batch) apply(actions []Action) error {
	for i, action := range actions {
		if b.principal.IsLocked {
			return fmt.Errorf("%w: %s before action %d", ErrPrincipalLocked, b.principal.ID, i)
		}
		kind := KindOfAction(action)
		if err := action.Visit(b); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, kind, err)
		}
		b.metrics.MarkAction(kind)
	}
	return b.finish()
}

// finish runs the checks deferred to the end of a batch.
func (b *batch) finish() error {
	if count := b.principal.AssetCount(); count > int(b.config.MaxNumAssets) {
		return fmt.Errorf("%w: %d > %d", ErrMaxAssetsExceeded, count, b.config.MaxNumAssets)
	}

	names := b.checks.List()
	sort.Strings(names)
	for _, name := range names {
		pos, ok := b.principal.Position(name)
		if !ok {
			continue
		}
		discount, err := RiskDiscount(b.asset, b.book, pos)
		if err != nil {
			return err
		}
		if discount.Sign() > 0 {
			return fmt.Errorf("%w: %s has discount %s", ErrPositionAtRisk, name, discount)
		}
	}

	for _, asset := range b.assets {
		asset.SettleDust()
	}
	return nil
}
